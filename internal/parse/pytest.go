package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// pytestGrammar reads pytest's verbose per-test lines, the short test summary
// info block, and the final "=== N passed, M failed in X.XXs ===" trailer.
type pytestGrammar struct{}

var (
	// e.g. "tests/test_foo.py::test_bar PASSED [ 33%]"
	pytestVerboseRe = regexp.MustCompile(`^(\S+\.py(?:::\S+)?)\s+(PASSED|FAILED|ERROR|SKIPPED|XFAIL|XPASS)(?:\s+\[\s*\d+%\s*\])?$`)

	// short test summary info, e.g. "FAILED tests/test_foo.py::test_bar - AssertionError: boom"
	pytestShortRe = regexp.MustCompile(`^(FAILED|ERROR)\s+(\S+?)(?:\s+-\s+(.*))?$`)

	// final trailer, e.g. "===== 1 failed, 2 passed in 0.12s ====="
	pytestTrailerRe = regexp.MustCompile(`^=+\s+(.*\bin\s+[\d.]+s.*?)\s+=+$`)

	pytestCountRe = regexp.MustCompile(`(\d+)\s+(passed|failed|errors?|skipped|xfailed|xpassed)`)

	pytestFailLineRe = regexp.MustCompile(`(?:^(?:FAILED|ERROR)\s+\S|\s(?:FAILED|ERROR)(?:\s+\[\s*\d+%\s*\])?$)`)
)

func (g *pytestGrammar) Runner() testrun.Runner { return testrun.RunnerPytest }

func (g *pytestGrammar) FailureLine(line string) bool {
	return pytestFailLineRe.MatchString(line)
}

// CollectionError: pytest exits 5 when no tests were collected, which is an
// empty suite, not a failure. Every other non-zero exit with zero parsed
// tests means collection or startup broke.
func (g *pytestGrammar) CollectionError(exitCode int) bool {
	return exitCode != 0 && exitCode != 5
}

func (g *pytestGrammar) Parse(output string, exitCode int) (*testrun.TestOutcome, error) {
	if strings.TrimSpace(output) == "" {
		return nil, errors.NewParseError(string(g.Runner()), "empty output")
	}

	out := &testrun.TestOutcome{}
	seenFailing := make(map[string]int) // test id -> index into FailingTests
	seenPassed := make(map[string]bool)
	seenSkipped := make(map[string]bool)
	var trailer string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " ")

		if m := pytestVerboseRe.FindStringSubmatch(line); m != nil {
			id, status := m[1], m[2]
			switch status {
			case "PASSED", "XPASS":
				if !seenPassed[id] {
					seenPassed[id] = true
					out.PassedTests = append(out.PassedTests, id)
				}
			case "FAILED", "ERROR":
				if _, ok := seenFailing[id]; !ok {
					seenFailing[id] = len(out.FailingTests)
					out.FailingTests = append(out.FailingTests, testrun.FailingTest{TestID: id})
				}
			case "SKIPPED", "XFAIL":
				if !seenSkipped[id] {
					seenSkipped[id] = true
					out.SkippedTests = append(out.SkippedTests, id)
				}
			}
			continue
		}

		if m := pytestShortRe.FindStringSubmatch(line); m != nil {
			id, msg := m[2], m[3]
			if i, ok := seenFailing[id]; ok {
				if out.FailingTests[i].ShortMessage == "" {
					out.FailingTests[i].ShortMessage = msg
				}
			} else {
				seenFailing[id] = len(out.FailingTests)
				out.FailingTests = append(out.FailingTests, testrun.FailingTest{TestID: id, ShortMessage: msg})
			}
			continue
		}

		if m := pytestTrailerRe.FindStringSubmatch(line); m != nil {
			trailer = m[1]
		}
	}

	if trailer != "" {
		out.SummaryText = trailer
		out.Counts = pytestCounts(trailer)
	} else {
		// No structured trailer: derive what we can from per-test lines,
		// and treat the tail of the output as the crash message.
		out.Counts = testrun.Counts{
			Passed:  len(out.PassedTests),
			Failed:  len(out.FailingTests),
			Skipped: len(out.SkippedTests),
		}
		if out.Counts.Total() == 0 {
			if exitCode == 0 {
				out.SummaryText = "no tests ran"
			} else {
				out.SummaryText = crashSummary(output, 5)
			}
		} else {
			out.SummaryText = crashSummary(output, 3)
		}
	}

	return out, nil
}

// pytestCounts parses the comma-separated count tokens of the trailer. The
// trailer totals win over the per-test line scan because they survive output
// that was cut mid-stream.
func pytestCounts(trailer string) testrun.Counts {
	var c testrun.Counts
	for _, m := range pytestCountRe.FindAllStringSubmatch(trailer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch m[2] {
		case "passed", "xpassed":
			c.Passed += n
		case "failed":
			c.Failed += n
		case "error", "errors":
			c.Errored += n
		case "skipped":
			c.Skipped += n
		case "xfailed":
			c.XFailed += n
		}
	}
	return c
}
