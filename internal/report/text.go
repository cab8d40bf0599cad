package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/testwarden/testwarden/internal/testrun"
)

// TextReporter renders a human-readable summary of one run
type TextReporter struct{}

// NewTextReporter creates a new text reporter
func NewTextReporter() *TextReporter {
	return &TextReporter{}
}

// Format renders a run as text and writes to the writer
func (r *TextReporter) Format(run *testrun.TestRun, writer io.Writer) error {
	s, err := r.FormatString(run)
	if err != nil {
		return err
	}
	_, err = io.WriteString(writer, s)
	return err
}

// FormatString returns a run as a text summary
func (r *TextReporter) FormatString(run *testrun.TestRun) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Run:     %s\n", run.ID)
	fmt.Fprintf(&b, "Project: %s\n", run.Request.ProjectPath)
	fmt.Fprintf(&b, "Runner:  %s (%s)\n", run.Request.Runner, run.Request.Mode)
	fmt.Fprintf(&b, "Status:  %s\n", run.Status)
	if run.FellBackToLocal {
		fmt.Fprintf(&b, "Note:    container backend unavailable, ran locally\n")
	}
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Elapsed: %s\n", run.Duration().Round(time.Millisecond))
	}
	if run.ExitCode != nil {
		fmt.Fprintf(&b, "Exit:    %d\n", *run.ExitCode)
	}

	out := run.Outcome
	if out == nil {
		return b.String(), nil
	}

	fmt.Fprintf(&b, "Tests:   %d passed, %d failed, %d errored, %d skipped, %d xfailed\n",
		out.Counts.Passed, out.Counts.Failed, out.Counts.Errored,
		out.Counts.Skipped, out.Counts.XFailed)
	if out.SummaryText != "" {
		fmt.Fprintf(&b, "Summary: %s\n", out.SummaryText)
	}
	if out.Truncated {
		fmt.Fprintf(&b, "Output truncated to the token budget; full output kept under raw ref %s\n", run.RawOutputRef)
	}

	if len(out.FailingTests) > 0 {
		b.WriteString("\nFailing tests:\n")
		for _, ft := range out.FailingTests {
			if ft.ShortMessage != "" {
				fmt.Fprintf(&b, "  %s - %s\n", ft.TestID, ft.ShortMessage)
			} else {
				fmt.Fprintf(&b, "  %s\n", ft.TestID)
			}
		}
	}

	if out.Details != "" {
		b.WriteString("\n")
		b.WriteString(out.Details)
		if !strings.HasSuffix(out.Details, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// Name returns the name of this reporter
func (r *TextReporter) Name() string {
	return "text"
}
