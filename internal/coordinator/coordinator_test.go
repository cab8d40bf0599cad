package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/exec"
	"github.com/testwarden/testwarden/internal/store"
	"github.com/testwarden/testwarden/internal/testrun"
	"github.com/testwarden/testwarden/internal/token"
	"github.com/testwarden/testwarden/pkg/types"
)

// fakeStrategy replays scripted output lines and an exit code. With block set
// it holds the run open until the context is cancelled, for the timeout,
// cancellation and single-flight tests.
type fakeStrategy struct {
	mode     testrun.Mode
	lines    []string
	exitCode int
	block    bool

	mu       sync.Mutex
	selected [][]string
}

func (f *fakeStrategy) Mode() testrun.Mode { return f.mode }

func (f *fakeStrategy) Execute(ctx context.Context, req testrun.RunRequest, selected []string) (*exec.Stream, error) {
	f.mu.Lock()
	f.selected = append(f.selected, append([]string(nil), selected...))
	f.mu.Unlock()

	stream := exec.NewStream()
	go func() {
		stream.Emit(ctx, exec.OutputEvent{Kind: exec.EventStarted})
		for _, line := range f.lines {
			stream.Emit(ctx, exec.OutputEvent{Kind: exec.EventLine, Line: line})
		}
		if f.block {
			<-ctx.Done()
		}
		stream.Emit(ctx, exec.OutputEvent{Kind: exec.EventExited, ExitCode: f.exitCode})
		stream.Finish(&exec.Result{
			ExitCode: f.exitCode,
			Output:   strings.Join(f.lines, "\n") + "\n",
		}, nil)
	}()
	return stream, nil
}

func (f *fakeStrategy) selections() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func testConfig() *types.Config {
	cfg := types.DefaultConfig
	return &cfg
}

// newTestCoordinator wires a coordinator to a memory store and the given
// local fake.
func newTestCoordinator(fake *fakeStrategy) (*Coordinator, store.Store) {
	st := store.NewMemory()
	c := New(testConfig(), st)
	c.local = fake
	return c, st
}

var pytestGreen = []string{
	"tests/test_math.py::test_add PASSED",
	"tests/test_math.py::test_sub PASSED",
	"tests/test_math.py::test_mul PASSED",
	"============================== 3 passed in 0.02s ===============================",
}

var pytestRed = []string{
	"tests/test_math.py::test_add PASSED",
	"tests/test_math.py::test_sub FAILED",
	"tests/test_math.py::test_div FAILED",
	"FAILED tests/test_math.py::test_sub - AssertionError: 1 != 3",
	"FAILED tests/test_math.py::test_div - ZeroDivisionError: division by zero",
	"========================= 2 failed, 1 passed in 0.05s ==========================",
}

func TestExecuteCompleted(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c, st := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusCompleted, run.Status)
	require.NotNil(t, run.Outcome)
	assert.Equal(t, testrun.Counts{Passed: 3}, run.Outcome.Counts)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)

	stored, err := st.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCompleted, stored.Status)

	raw, err := st.GetRaw(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Contains(t, raw, "3 passed in 0.02s")
}

func TestExecuteFailedTestsAndLastFailedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestRed, exitCode: 1}
	c, st := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusFailedTests, run.Status)
	require.Len(t, run.Outcome.FailingTests, 2)
	assert.Equal(t, "tests/test_math.py::test_sub", run.Outcome.FailingTests[0].TestID)
	assert.Equal(t, "AssertionError: 1 != 3", run.Outcome.FailingTests[0].ShortMessage)

	wantFailed := []string{"tests/test_math.py::test_sub", "tests/test_math.py::test_div"}
	got, err := c.LastFailed(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, wantFailed, got)

	// The next run with run_last_failed selects exactly those ids.
	_, err = c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath:   dir,
		Runner:        testrun.RunnerPytest,
		RunLastFailed: true,
	})
	require.NoError(t, err)
	sels := fake.selections()
	require.Len(t, sels, 2)
	assert.Equal(t, wantFailed, sels[1])

	// An all-green run clears the index.
	green := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c.local = green
	_, err = c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	got, err = st.GetLastFailed(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLastFailedKeepsAllIDsUnderTightBudget(t *testing.T) {
	dir := t.TempDir()

	var lines []string
	var want []string
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("tests/test_many.py::test_case_%03d", i)
		lines = append(lines, fmt.Sprintf("FAILED %s - AssertionError: boom", id))
		want = append(want, id)
	}
	lines = append(lines, "========================= 200 failed in 1.00s =========================")

	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: lines, exitCode: 1}
	c, _ := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
		MaxTokens:   token.MinBudget,
	})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusFailedTests, run.Status)
	assert.Equal(t, 200, run.Outcome.Counts.Failed)
	assert.Less(t, len(run.Outcome.FailingTests), 200, "the stored outcome should be cut down")

	// The index keeps every failing id even when the stored outcome does not.
	got, err := c.LastFailed(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestParsedOutcomeBeatsExitCode(t *testing.T) {
	// Exit 1 with an all-green trailer still completes; the parsed outcome is
	// authoritative.
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen, exitCode: 1}
	c, _ := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCompleted, run.Status)

	// And exit 0 with failures in the output is still failed_tests.
	fake = &fakeStrategy{mode: testrun.ModeLocal, lines: pytestRed, exitCode: 0}
	c, _ = newTestCoordinator(fake)

	run, err = c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusFailedTests, run.Status)
}

func TestCollectionErrorStatus(t *testing.T) {
	lines := []string{
		"Traceback (most recent call last):",
		`  File "conftest.py", line 2, in <module>`,
		"    import missing_module",
		"ModuleNotFoundError: No module named 'missing_module'",
	}
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: lines, exitCode: 4}
	c, _ := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusError, run.Status)
	assert.Contains(t, run.Outcome.SummaryText, "ModuleNotFoundError")
}

func TestSingleFlight(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen, block: true}
	c, _ := newTestCoordinator(fake)

	h, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
	})
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "expected a conflict error, got %v", err)

	// A different project is unaffected.
	other, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)
	other.Cancel()

	h.Cancel()
	run, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusError, run.Status)

	// The slot is free again once the run finalized.
	done, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: dir,
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)
	done.Cancel()
	_, err = done.Wait(context.Background())
	require.NoError(t, err)
}

func TestCancelledRunRecorded(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, block: true}
	c, st := newTestCoordinator(fake)

	h, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	h.Cancel()
	run, err := h.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusError, run.Status)
	assert.Contains(t, run.Outcome.SummaryText, "cancelled")

	stored, err := st.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusError, stored.Status)
}

func TestTimeoutRecordedAsError(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, block: true}
	c, _ := newTestCoordinator(fake)

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		TestPath:    "",
		Runner:      testrun.RunnerPytest,
		Timeout:     100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusError, run.Status)
	assert.Contains(t, run.Outcome.SummaryText, "timed out")
	assert.Equal(t, 1, run.Outcome.Counts.Errored)
	require.Len(t, run.Outcome.FailingTests, 1)
	assert.Equal(t, "timed out", run.Outcome.FailingTests[0].ShortMessage)
}

func TestContainerUnavailableFailsFast(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c, st := newTestCoordinator(fake)
	c.newDocker = func(ctx context.Context) (exec.Strategy, error) {
		return nil, errors.NewConfigurationError("docker daemon unreachable", "start the docker daemon")
	}

	_, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
		Mode:        testrun.ModeContainer,
	})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err), "expected a configuration error, got %v", err)

	// No record was created.
	ids, err := st.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestContainerFallbackToLocal(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c, _ := newTestCoordinator(fake)
	c.cfg.AllowLocalFallback = true
	c.newDocker = func(ctx context.Context) (exec.Strategy, error) {
		return nil, errors.NewConfigurationError("docker daemon unreachable", "start the docker daemon")
	}

	run, err := c.Execute(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
		Mode:        testrun.ModeContainer,
	})
	require.NoError(t, err)

	assert.Equal(t, testrun.StatusCompleted, run.Status)
	assert.True(t, run.FellBackToLocal)
	assert.Contains(t, run.Outcome.SummaryText, "container backend unavailable")
}

func TestValidationErrors(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c, _ := newTestCoordinator(fake)

	cases := []testrun.RunRequest{
		{ProjectPath: t.TempDir(), Runner: "tox"},
		{ProjectPath: t.TempDir(), Runner: testrun.RunnerPytest, Mode: "vm"},
		{ProjectPath: t.TempDir(), Runner: testrun.RunnerPytest, MaxTokens: 10},
		{ProjectPath: t.TempDir(), Runner: testrun.RunnerPytest, MaxFailures: -1},
		{ProjectPath: "/nonexistent/project/dir", Runner: testrun.RunnerPytest},
		{ProjectPath: t.TempDir(), Runner: testrun.RunnerPytest, TestPath: "../outside"},
	}
	for _, req := range cases {
		_, err := c.Submit(context.Background(), req)
		require.Error(t, err, "request %+v", req)
		assert.True(t, errors.IsConfiguration(err), "expected a configuration error for %+v, got %v", req, err)
	}
}

func TestGetRunPrefersLiveView(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, block: true}
	c, _ := newTestCoordinator(fake)

	h, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	live, err := c.GetRun(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusRunning, live.Status)

	h.Cancel()
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	final, err := c.GetRun(context.Background(), h.ID)
	require.NoError(t, err)
	assert.True(t, final.Status.Terminal())

	_, err = c.GetRun(context.Background(), "no-such-run")
	assert.True(t, errors.IsNotFound(err), "expected a not-found error, got %v", err)
}

func TestEventsForwardedInOrder(t *testing.T) {
	fake := &fakeStrategy{mode: testrun.ModeLocal, lines: pytestGreen}
	c, _ := newTestCoordinator(fake)

	h, err := c.Submit(context.Background(), testrun.RunRequest{
		ProjectPath: t.TempDir(),
		Runner:      testrun.RunnerPytest,
	})
	require.NoError(t, err)

	var lines []string
	for ev := range h.Events() {
		if ev.Kind == exec.EventLine {
			lines = append(lines, ev.Line)
		}
	}
	assert.Equal(t, pytestGreen, lines)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)
}
