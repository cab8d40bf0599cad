// Package testrun defines the data model shared by the execution pipeline:
// the RunRequest input, the persisted TestRun record, and the normalized
// TestOutcome parsed from runner output.
package testrun

import (
	"time"

	"github.com/google/uuid"
)

// Runner identifies the test framework invoked inside the target project.
type Runner string

const (
	RunnerPytest   Runner = "pytest"
	RunnerUnittest Runner = "unittest"
	RunnerNose2    Runner = "nose2"
)

// Known reports whether r names a supported runner.
func (r Runner) Known() bool {
	switch r {
	case RunnerPytest, RunnerUnittest, RunnerNose2:
		return true
	}
	return false
}

// Mode selects the execution backend.
type Mode string

const (
	ModeLocal     Mode = "local"
	ModeContainer Mode = "container"
)

// Known reports whether m names a supported execution mode.
func (m Mode) Known() bool {
	return m == ModeLocal || m == ModeContainer
}

// Status is the lifecycle state of a TestRun.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailedTests Status = "failed_tests"
	StatusError       Status = "error"
)

// Terminal reports whether the status is final. A terminal record is
// read-only.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailedTests, StatusError:
		return true
	}
	return false
}

// RunRequest is the input to a single test execution.
type RunRequest struct {
	ProjectPath    string        `json:"project_path"`
	TestPath       string        `json:"test_path,omitempty"`
	Runner         Runner        `json:"runner"`
	Mode           Mode          `json:"mode"`
	ContainerImage string        `json:"container_image,omitempty"`
	MaxTokens      int           `json:"max_tokens"`
	MaxFailures    int           `json:"max_failures,omitempty"` // 0 = run everything
	RunLastFailed  bool          `json:"run_last_failed,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	ExtraArgs      []string      `json:"extra_args,omitempty"`
}

// Counts holds the per-category test totals. The totals always reflect the
// full run, never the truncated view.
type Counts struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
	XFailed int `json:"xfailed"`
}

// Total returns the number of tests in all categories.
func (c Counts) Total() int {
	return c.Passed + c.Failed + c.Errored + c.Skipped + c.XFailed
}

// Failing returns the count that determines overall pass/fail.
func (c Counts) Failing() int {
	return c.Failed + c.Errored
}

// FailingTest is one failed or errored test in order of appearance.
type FailingTest struct {
	TestID       string `json:"test_id"`
	ShortMessage string `json:"short_message,omitempty"`
}

// TestOutcome is the normalized, runner-agnostic parse of raw output.
type TestOutcome struct {
	Counts       Counts        `json:"counts"`
	FailingTests []FailingTest `json:"failing_tests,omitempty"`
	PassedTests  []string      `json:"passed_tests,omitempty"`
	SkippedTests []string      `json:"skipped_tests,omitempty"`
	SummaryText  string        `json:"summary_text"`
	Details      string        `json:"details,omitempty"`
	Truncated    bool          `json:"truncated"`
}

// Clone returns a deep copy of the outcome.
func (o *TestOutcome) Clone() *TestOutcome {
	if o == nil {
		return nil
	}
	dup := *o
	dup.FailingTests = append([]FailingTest(nil), o.FailingTests...)
	dup.PassedTests = append([]string(nil), o.PassedTests...)
	dup.SkippedTests = append([]string(nil), o.SkippedTests...)
	return &dup
}

// FailingIDs returns the test ids of the failing tests in order of
// appearance.
func (o *TestOutcome) FailingIDs() []string {
	ids := make([]string, 0, len(o.FailingTests))
	for _, ft := range o.FailingTests {
		ids = append(ids, ft.TestID)
	}
	return ids
}

// TestRun is the persisted record of one execution. Once the status is
// terminal the record is immutable.
type TestRun struct {
	ID              string       `json:"id"`
	Request         RunRequest   `json:"request"`
	Status          Status       `json:"status"`
	Outcome         *TestOutcome `json:"outcome,omitempty"`
	RawOutputRef    string       `json:"raw_output_ref,omitempty"`
	StartedAt       time.Time    `json:"started_at,omitempty"`
	FinishedAt      time.Time    `json:"finished_at,omitempty"`
	ExitCode        *int         `json:"exit_code,omitempty"`
	FellBackToLocal bool         `json:"fell_back_to_local,omitempty"`
}

// New creates a pending TestRun for the given request with a fresh id.
func New(req RunRequest) *TestRun {
	return &TestRun{
		ID:      uuid.NewString(),
		Request: req,
		Status:  StatusPending,
	}
}

// Duration returns the execution duration so far, or the final duration once
// the run finished.
func (r *TestRun) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Clone returns a deep copy of the record, safe to hand to callers while the
// original is still being mutated by the coordinator.
func (r *TestRun) Clone() *TestRun {
	dup := *r
	dup.Outcome = r.Outcome.Clone()
	if r.ExitCode != nil {
		code := *r.ExitCode
		dup.ExitCode = &code
	}
	dup.Request.ExtraArgs = append([]string(nil), r.Request.ExtraArgs...)
	return &dup
}
