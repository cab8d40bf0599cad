// Package coordinator owns the run lifecycle: it validates requests, enforces
// the one-run-per-project rule, drives an execution strategy, turns raw output
// into a finalized TestRun, and persists the result plus the last-failed
// index.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/exec"
	"github.com/testwarden/testwarden/internal/logger"
	"github.com/testwarden/testwarden/internal/parse"
	"github.com/testwarden/testwarden/internal/project"
	"github.com/testwarden/testwarden/internal/store"
	"github.com/testwarden/testwarden/internal/testrun"
	"github.com/testwarden/testwarden/internal/token"
	"github.com/testwarden/testwarden/pkg/types"
)

// storeTimeout bounds the persistence step of an already-finished run.
const storeTimeout = 30 * time.Second

// Coordinator schedules and finalizes test runs.
type Coordinator struct {
	cfg      *types.Config
	store    store.Store
	registry *RunRegistry
	local    exec.Strategy
	counter  token.Counter

	// newDocker is swappable so tests can inject a fake container backend.
	newDocker func(ctx context.Context) (exec.Strategy, error)
}

// New creates a Coordinator backed by the given store.
func New(cfg *types.Config, st store.Store) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		store:    st,
		registry: NewRunRegistry(),
		local:    exec.NewLocal(),
		counter:  token.Heuristic{},
		newDocker: func(ctx context.Context) (exec.Strategy, error) {
			return exec.NewDocker(ctx)
		},
	}
}

// Handle is the caller's view of an accepted run: a live event stream plus a
// way to wait for (or cancel) the final record.
type Handle struct {
	ID string

	events chan exec.OutputEvent
	done   chan struct{}
	cancel context.CancelFunc

	final *testrun.TestRun
}

func newHandle(id string, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:     id,
		events: make(chan exec.OutputEvent, 1024),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Events returns the live output stream. Delivery is best effort: a consumer
// that stops draining loses events, never the recorded output.
func (h *Handle) Events() <-chan exec.OutputEvent {
	return h.events
}

// Cancel requests cooperative cancellation. The run still finalizes and is
// persisted with status error.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the run is finalized and returns the stored record.
func (h *Handle) Wait(ctx context.Context) (*testrun.TestRun, error) {
	select {
	case <-h.done:
		return h.final.Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handle) complete(run *testrun.TestRun) {
	h.final = run
	close(h.events)
	close(h.done)
}

// Submit validates the request, claims the project slot, and starts the run
// in the background. Validation failures and project-slot conflicts are
// reported synchronously and leave no record behind.
func (c *Coordinator) Submit(ctx context.Context, req testrun.RunRequest) (*Handle, error) {
	c.applyDefaults(&req)
	if err := c.validate(&req); err != nil {
		return nil, err
	}

	strategy := c.local
	fellBack := false
	if req.Mode == testrun.ModeContainer {
		docker, err := c.newDocker(ctx)
		switch {
		case err == nil:
			strategy = docker
		case c.cfg.AllowLocalFallback && errors.IsConfiguration(err):
			logger.Warn("container backend unavailable, falling back to local execution: %v", err)
			fellBack = true
		default:
			return nil, err
		}
	}

	var selected []string
	if req.RunLastFailed {
		ids, err := c.store.GetLastFailed(ctx, req.ProjectPath)
		if err != nil {
			return nil, err
		}
		// No recorded failures: fall through to the requested test path.
		selected = ids
	}

	run := testrun.New(req)
	run.FellBackToLocal = fellBack
	run.RawOutputRef = run.ID

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), req.Timeout)
	if err := c.registry.Acquire(run, cancel); err != nil {
		cancel()
		return nil, err
	}

	h := newHandle(run.ID, cancel)
	stream, err := strategy.Execute(runCtx, req, selected)
	if err != nil {
		// The request was accepted; record the startup failure instead of
		// leaving no trace.
		final := c.finalizeStartFailure(run, err)
		cancel()
		h.complete(final)
		return h, nil
	}

	now := time.Now()
	c.registry.Update(run.ID, func(r *testrun.TestRun) {
		r.Status = testrun.StatusRunning
		r.StartedAt = now
	})
	go c.finalize(runCtx, cancel, run.ID, req, stream, h)
	return h, nil
}

// Execute is the synchronous form of Submit: it drains the event stream
// itself and returns the finalized record.
func (c *Coordinator) Execute(ctx context.Context, req testrun.RunRequest) (*testrun.TestRun, error) {
	h, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			h.Cancel()
		case <-h.done:
		}
	}()
	for range h.Events() {
	}
	return h.Wait(context.Background())
}

// GetRun returns a run by id, preferring the live in-flight view over the
// store.
func (c *Coordinator) GetRun(ctx context.Context, id string) (*testrun.TestRun, error) {
	if run, ok := c.registry.Snapshot(id); ok {
		return run, nil
	}
	return c.store.Get(ctx, id)
}

// GetRawOutput returns the full untruncated output stored for a run.
func (c *Coordinator) GetRawOutput(ctx context.Context, id string) (string, error) {
	return c.store.GetRaw(ctx, id)
}

// ListRuns returns all stored run ids in insertion order.
func (c *Coordinator) ListRuns(ctx context.Context) ([]string, error) {
	return c.store.ListIDs(ctx)
}

// LastFailed returns the recorded failing test ids for a project.
func (c *Coordinator) LastFailed(ctx context.Context, projectPath string) ([]string, error) {
	abs, err := project.ResolveProjectPath(c.cfg.AllowedRoot, projectPath)
	if err != nil {
		return nil, err
	}
	return c.store.GetLastFailed(ctx, abs)
}

// Cancel cancels an in-flight run by id.
func (c *Coordinator) Cancel(id string) bool {
	return c.registry.Cancel(id)
}

func (c *Coordinator) applyDefaults(req *testrun.RunRequest) {
	if req.Runner == "" {
		req.Runner = testrun.RunnerPytest
	}
	if req.Mode == "" {
		req.Mode = testrun.ModeLocal
	}
	if req.ContainerImage == "" {
		req.ContainerImage = c.cfg.DefaultImage
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.DefaultMaxTokens
	}
	if req.Timeout <= 0 {
		req.Timeout = c.cfg.DefaultTimeout
	}
}

func (c *Coordinator) validate(req *testrun.RunRequest) error {
	if !req.Runner.Known() {
		return errors.NewConfigurationError(
			fmt.Sprintf("unsupported runner %q", req.Runner),
			"supported runners are pytest, unittest and nose2")
	}
	if !req.Mode.Known() {
		return errors.NewConfigurationError(
			fmt.Sprintf("unsupported execution mode %q", req.Mode),
			"supported modes are local and container")
	}
	if req.MaxTokens < token.MinBudget {
		return errors.NewConfigurationError(
			fmt.Sprintf("max_tokens %d is below the minimum of %d", req.MaxTokens, token.MinBudget),
			"raise max_tokens or omit it to use the default")
	}
	if req.MaxFailures < 0 {
		return errors.NewConfigurationError(
			fmt.Sprintf("max_failures must not be negative, got %d", req.MaxFailures), "")
	}
	abs, err := project.ResolveProjectPath(c.cfg.AllowedRoot, req.ProjectPath)
	if err != nil {
		return err
	}
	req.ProjectPath = abs
	return project.ValidateTestPath(req.ProjectPath, req.TestPath)
}

// finalizeStartFailure records a run whose process or container never
// started and returns the stored record.
func (c *Coordinator) finalizeStartFailure(run *testrun.TestRun, execErr error) *testrun.TestRun {
	now := time.Now()
	c.registry.Update(run.ID, func(r *testrun.TestRun) {
		r.Status = testrun.StatusError
		r.StartedAt = now
		r.FinishedAt = now
		r.Outcome = &testrun.TestOutcome{
			SummaryText: execErr.Error(),
		}
	})
	final, _ := c.registry.Snapshot(run.ID)
	c.persist(final, "")
	c.registry.Release(run.ID)
	return final
}

// finalize consumes the strategy stream, derives the final status, truncates
// the outcome to the token budget, persists the record, and rewrites the
// last-failed index. It runs detached from the submitting caller.
func (c *Coordinator) finalize(runCtx context.Context, cancel context.CancelFunc, runID string, req testrun.RunRequest, stream *exec.Stream, h *Handle) {
	defer cancel()

	for ev := range stream.Events() {
		select {
		case h.events <- ev:
		default:
			// Slow consumer; the full output still lands in the record.
		}
	}
	res, execErr := stream.Wait()

	finished := time.Now()
	var (
		status  testrun.Status
		outcome *testrun.TestOutcome
		raw     string
		exit    *int
	)

	switch {
	case execErr != nil:
		status = testrun.StatusError
		outcome = &testrun.TestOutcome{SummaryText: execErr.Error()}

	case runCtx.Err() == context.DeadlineExceeded:
		status = testrun.StatusError
		raw = res.Output
		exit = intPtr(res.ExitCode)
		outcome = timeoutOutcome(req)

	case runCtx.Err() == context.Canceled:
		status = testrun.StatusError
		raw = res.Output
		exit = intPtr(res.ExitCode)
		outcome = &testrun.TestOutcome{SummaryText: "cancelled"}

	default:
		raw = res.Output
		exit = intPtr(res.ExitCode)
		status, outcome = c.interpret(req, raw, res)
	}

	// The index needs every failing test id; truncation below may drop
	// entries from the stored outcome.
	failing := outcome.FailingIDs()

	outcome, _ = token.Truncate(outcome, raw, req.MaxTokens, c.counter)
	if c.fellBack(runID) {
		outcome.SummaryText = "ran locally, container backend unavailable. " + outcome.SummaryText
	}

	c.registry.Update(runID, func(r *testrun.TestRun) {
		r.Status = status
		r.Outcome = outcome
		r.FinishedAt = finished
		r.ExitCode = exit
	})
	final, _ := c.registry.Snapshot(runID)
	c.persist(final, raw)
	c.updateLastFailed(req.ProjectPath, failing)

	c.registry.Release(runID)
	h.complete(final)
}

// interpret derives status and outcome from raw output. The parsed outcome is
// authoritative; the exit code only decides when parsing fails entirely.
func (c *Coordinator) interpret(req testrun.RunRequest, raw string, res *exec.Result) (testrun.Status, *testrun.TestOutcome) {
	grammar, err := parse.ForRunner(req.Runner)
	if err != nil {
		return testrun.StatusError, &testrun.TestOutcome{SummaryText: err.Error()}
	}
	outcome, perr := parse.Parse(req.Runner, raw, "", res.ExitCode)
	if perr != nil {
		summary := fmt.Sprintf("output could not be parsed: %v", perr)
		if res.ExitCode == 0 {
			return testrun.StatusCompleted, &testrun.TestOutcome{SummaryText: summary}
		}
		return testrun.StatusError, &testrun.TestOutcome{SummaryText: summary}
	}
	if res.KilledByCutoff {
		outcome.SummaryText += fmt.Sprintf(" (stopped after %d failures)", req.MaxFailures)
	}
	switch {
	case outcome.Counts.Failing() > 0:
		return testrun.StatusFailedTests, outcome
	case outcome.Counts.Total() == 0 && grammar.CollectionError(res.ExitCode):
		return testrun.StatusError, outcome
	default:
		return testrun.StatusCompleted, outcome
	}
}

// updateLastFailed rewrites the per-project index. An all-green run clears a
// previously non-empty entry; a project with no history stays absent.
func (c *Coordinator) updateLastFailed(projectPath string, failing []string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if len(failing) == 0 {
		prior, err := c.store.GetLastFailed(ctx, projectPath)
		if err != nil || len(prior) == 0 {
			return
		}
	}
	if err := c.store.PutLastFailed(ctx, projectPath, failing); err != nil {
		logger.Error("updating last-failed index for %s: %v", projectPath, err)
	}
}

func (c *Coordinator) persist(run *testrun.TestRun, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Put(ctx, run, raw); err != nil {
		logger.Error("persisting run %s: %v", run.ID, err)
	}
}

func (c *Coordinator) fellBack(runID string) bool {
	run, ok := c.registry.Snapshot(runID)
	return ok && run.FellBackToLocal
}

func timeoutOutcome(req testrun.RunRequest) *testrun.TestOutcome {
	target := req.TestPath
	if target == "" {
		target = req.ProjectPath
	}
	return &testrun.TestOutcome{
		Counts: testrun.Counts{Errored: 1},
		FailingTests: []testrun.FailingTest{
			{TestID: target, ShortMessage: "timed out"},
		},
		SummaryText: fmt.Sprintf("timed out after %s", req.Timeout),
	}
}

func intPtr(v int) *int { return &v }
