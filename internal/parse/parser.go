// Package parse converts raw test-runner output into a normalized
// TestOutcome. Each supported runner has its own Grammar so a new runner can
// be added without touching the others. Parsing is a pure function of its
// inputs: same output and exit code, same outcome.
package parse

import (
	"strings"

	"github.com/acarl005/stripansi"
	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// Grammar knows how to read one runner's textual output.
type Grammar interface {
	// Runner identifies which framework this grammar reads.
	Runner() testrun.Runner

	// Parse consumes normalized output and the process exit code and
	// produces a TestOutcome. Counts are always populated, even when the
	// runner crashed before printing a structured summary.
	Parse(output string, exitCode int) (*testrun.TestOutcome, error)

	// FailureLine reports whether a single normalized output line marks a
	// test failure. Used for the advisory max-failures cutoff while
	// streaming.
	FailureLine(line string) bool

	// CollectionError reports whether an exit code, combined with zero
	// collected tests, indicates a collection failure rather than an empty
	// suite.
	CollectionError(exitCode int) bool
}

// ForRunner returns the grammar for the given runner.
func ForRunner(r testrun.Runner) (Grammar, error) {
	switch r {
	case testrun.RunnerPytest:
		return &pytestGrammar{}, nil
	case testrun.RunnerUnittest:
		return &unittestGrammar{}, nil
	case testrun.RunnerNose2:
		return &nose2Grammar{}, nil
	}
	return nil, errors.NewConfigurationError("unknown test runner: "+string(r), "use pytest, unittest, or nose2")
}

// Parse normalizes stdout+stderr and applies the runner's grammar.
func Parse(r testrun.Runner, stdout, stderr string, exitCode int) (*testrun.TestOutcome, error) {
	g, err := ForRunner(r)
	if err != nil {
		return nil, err
	}
	output := stdout
	if stderr != "" {
		if output != "" && !strings.HasSuffix(output, "\n") {
			output += "\n"
		}
		output += stderr
	}
	return g.Parse(Normalize(output), exitCode)
}

// Normalize strips ANSI escape sequences and carriage returns so the
// grammars can match plain lines.
func Normalize(s string) string {
	s = stripansi.Strip(s)
	return strings.ReplaceAll(s, "\r", "")
}

// crashSummary extracts a short human-readable synopsis from output that has
// no structured trailer: the last few non-empty lines, which for a crashed
// runner hold the traceback tail or error message.
func crashSummary(output string, max int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	var keep []string
	for i := len(lines) - 1; i >= 0 && len(keep) < max; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		keep = append([]string{lines[i]}, keep...)
	}
	return strings.Join(keep, "\n")
}
