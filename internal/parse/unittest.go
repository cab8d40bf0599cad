package parse

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// unittestGrammar reads unittest's dotted/verbose progress lines, the
// "FAIL:"/"ERROR:" traceback headers, and the
// "Ran N tests in X.XXXs" / "FAILED (failures=N, errors=M)" trailer.
type unittestGrammar struct{}

var (
	// e.g. "test_sub (tests.test_math.TestMath) ... FAIL"
	unittestResultRe = regexp.MustCompile(`^(test\w+)\s+\(([\w.]+)\)\s+\.\.\.\s+(ok|FAIL|ERROR|skipped.*|expected failure|unexpected success)$`)

	// e.g. "FAIL: test_sub (tests.test_math.TestMath)"
	unittestHeaderRe = regexp.MustCompile(`^(FAIL|ERROR):\s+(test\w+)\s+\(([\w.]+)\)`)

	// e.g. "Ran 3 tests in 0.001s"
	unittestRanRe = regexp.MustCompile(`^Ran\s+(\d+)\s+tests?\s+in\s+[\d.]+s$`)

	// e.g. "FAILED (failures=1, errors=2)" or "OK (skipped=1)"
	unittestVerdictRe = regexp.MustCompile(`^(OK|FAILED)(?:\s+\((.*)\))?$`)

	// the final exception line of a traceback block
	unittestExcRe = regexp.MustCompile(`^[A-Za-z_][\w.]*(?:Error|Exception|Failure)\b.*`)

	unittestFailLineRe = regexp.MustCompile(`(?:^(?:FAIL|ERROR):\s|\s\.\.\.\s(?:FAIL|ERROR)$)`)
)

func (g *unittestGrammar) Runner() testrun.Runner { return testrun.RunnerUnittest }

func (g *unittestGrammar) FailureLine(line string) bool {
	return unittestFailLineRe.MatchString(line)
}

// CollectionError: unittest has no "no tests collected" exit code; any
// non-zero exit alongside zero parsed tests is a startup or import failure.
func (g *unittestGrammar) CollectionError(exitCode int) bool {
	return exitCode != 0
}

func (g *unittestGrammar) Parse(output string, exitCode int) (*testrun.TestOutcome, error) {
	return parseDotted(g.Runner(), unittestHeaderRe, output, exitCode)
}

// parseDotted is the shared line scanner for the unittest-style grammars.
// nose2 inherits unittest's progress format but uses a looser traceback
// header (loader failures name modules rather than test methods), so the
// header pattern is the variant-specific piece.
func parseDotted(runner testrun.Runner, headerRe *regexp.Regexp, output string, exitCode int) (*testrun.TestOutcome, error) {
	if strings.TrimSpace(output) == "" {
		return nil, errors.NewParseError(string(runner), "empty output")
	}

	out := &testrun.TestOutcome{}
	seenFailing := make(map[string]int)
	seenPassed := make(map[string]bool)
	seenSkipped := make(map[string]bool)

	recordFailing := func(id string) int {
		if i, ok := seenFailing[id]; ok {
			return i
		}
		seenFailing[id] = len(out.FailingTests)
		out.FailingTests = append(out.FailingTests, testrun.FailingTest{TestID: id})
		return len(out.FailingTests) - 1
	}

	var (
		ranTotal   = -1
		verdict    string
		verdictKVs string
		ranLine    string
		current    = -1 // index of the failing test whose traceback we are in
		xfailSeen  int
	)

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, " ")

		if m := unittestResultRe.FindStringSubmatch(line); m != nil {
			id := dottedTestID(m[1], m[2])
			switch {
			case m[3] == "ok", m[3] == "unexpected success":
				if !seenPassed[id] {
					seenPassed[id] = true
					out.PassedTests = append(out.PassedTests, id)
				}
			case m[3] == "FAIL", m[3] == "ERROR":
				recordFailing(id)
			case strings.HasPrefix(m[3], "skipped"):
				if !seenSkipped[id] {
					seenSkipped[id] = true
					out.SkippedTests = append(out.SkippedTests, id)
				}
			case m[3] == "expected failure":
				xfailSeen++
			}
			current = -1
			continue
		}

		if m := headerRe.FindStringSubmatch(line); m != nil {
			current = recordFailing(headerTestID(m))
			continue
		}

		if m := unittestRanRe.FindStringSubmatch(line); m != nil {
			ranTotal, _ = strconv.Atoi(m[1])
			ranLine = line
			current = -1
			continue
		}

		if m := unittestVerdictRe.FindStringSubmatch(line); m != nil && ranTotal >= 0 {
			verdict, verdictKVs = m[1], m[2]
			continue
		}

		if current >= 0 && unittestExcRe.MatchString(line) {
			// Keep the last exception line of the block; nested tracebacks
			// end with the actual failure.
			out.FailingTests[current].ShortMessage = line
		}
	}

	if ranTotal >= 0 {
		out.Counts = dottedCounts(ranTotal, verdictKVs)
		out.SummaryText = ranLine
		if verdict != "" {
			out.SummaryText += "\n" + verdict
			if verdictKVs != "" {
				out.SummaryText += " (" + verdictKVs + ")"
			}
		}
	} else {
		out.Counts = testrun.Counts{
			Passed:  len(out.PassedTests),
			Failed:  len(out.FailingTests),
			Skipped: len(out.SkippedTests),
			XFailed: xfailSeen,
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

// dottedCounts derives category totals from the trailer: "Ran N tests"
// gives the total, the verdict's key=value pairs give the non-passing
// categories, and passed is the remainder.
func dottedCounts(total int, kvs string) testrun.Counts {
	var c testrun.Counts
	for _, part := range strings.Split(kvs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(key) {
		case "failures":
			c.Failed = n
		case "errors":
			c.Errored = n
		case "skipped":
			c.Skipped = n
		case "expected failures":
			c.XFailed = n
		}
	}
	c.Passed = total - c.Failed - c.Errored - c.Skipped - c.XFailed
	if c.Passed < 0 {
		c.Passed = 0
	}
	return c
}

// dottedTestID joins a method name with its qualified class/module. Python
// 3.11+ already includes the method in the parenthesized part. Loader
// failures wrap a module path in a synthetic class; the module path itself is
// the id there so the progress line and the traceback header agree.
func dottedTestID(method, qualified string) string {
	if strings.Contains(qualified, "LoadTestsFailure") || strings.Contains(qualified, "_FailedTest") {
		return method
	}
	if strings.HasSuffix(qualified, "."+method) {
		return qualified
	}
	return qualified + "." + method
}

// headerTestID derives the failing test id from a FAIL:/ERROR: header match.
// Loader failures (nose2's LoadTestsFailure) name a module, not a test
// method, so the module path itself is the id.
func headerTestID(m []string) string {
	if len(m) < 4 || m[3] == "" {
		return m[2]
	}
	return dottedTestID(m[2], m[3])
}
