package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/testwarden/testwarden/internal/store"
	"github.com/testwarden/testwarden/internal/testrun"
	"github.com/testwarden/testwarden/internal/testutil"
)

func TestPostgresStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	connString, cleanup := testutil.SetupPostgresContainer(t)
	defer cleanup()

	ctx := context.Background()
	s, err := store.NewPostgres(ctx, connString)
	require.NoError(t, err)
	defer s.Close()

	run := testrun.New(testrun.RunRequest{
		ProjectPath: "/work/alpha",
		Runner:      testrun.RunnerPytest,
		Mode:        testrun.ModeLocal,
		MaxTokens:   4000,
	})
	run.Status = testrun.StatusFailedTests
	run.Outcome = &testrun.TestOutcome{
		Counts: testrun.Counts{Failed: 1},
		FailingTests: []testrun.FailingTest{
			{TestID: "tests/test_math.py::test_sub", ShortMessage: "AssertionError"},
		},
		SummaryText: "1 failed in 0.05s",
	}

	require.NoError(t, s.Put(ctx, run, "raw runner output"))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, testrun.StatusFailedTests, got.Status)
	require.Equal(t, run.Outcome.FailingTests, got.Outcome.FailingTests)

	raw, err := s.GetRaw(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "raw runner output", raw)

	// Overwriting the same id keeps one listing entry.
	run.Status = testrun.StatusError
	require.NoError(t, s.Put(ctx, run, "raw runner output v2"))
	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{run.ID}, ids)

	// Last-failed round-trip including wholesale clearing.
	failed, err := s.GetLastFailed(ctx, "/work/alpha")
	require.NoError(t, err)
	require.Empty(t, failed)

	want := []string{"tests/test_math.py::test_sub"}
	require.NoError(t, s.PutLastFailed(ctx, "/work/alpha", want))
	failed, err = s.GetLastFailed(ctx, "/work/alpha")
	require.NoError(t, err)
	require.Equal(t, want, failed)

	require.NoError(t, s.PutLastFailed(ctx, "/work/alpha", nil))
	failed, err = s.GetLastFailed(ctx, "/work/alpha")
	require.NoError(t, err)
	require.Empty(t, failed)

	_, err = s.Get(ctx, "no-such-id")
	require.Error(t, err)
}
