package parse

import (
	"regexp"

	"github.com/testwarden/testwarden/internal/testrun"
)

// nose2Grammar reads nose2 output. nose2 reuses unittest's progress lines and
// trailer, but its traceback headers also cover loader failures, where the
// "test" is a module path wrapped in nose2.loader.LoadTestsFailure rather
// than a test method. Those show up as errored entries so an unimportable
// test module is never silently dropped.
type nose2Grammar struct{}

var (
	// e.g. "ERROR: tests (nose2.loader.LoadTestsFailure)" as well as the
	// regular "FAIL: test_sub (tests.test_math.TestMath)"
	nose2HeaderRe = regexp.MustCompile(`^(FAIL|ERROR):\s+([\w./-]+)(?:\s+\(([\w.]+)\))?`)

	nose2FailLineRe = regexp.MustCompile(`(?:^(?:FAIL|ERROR):\s|\s\.\.\.\s(?:FAIL|ERROR)$)`)
)

func (g *nose2Grammar) Runner() testrun.Runner { return testrun.RunnerNose2 }

func (g *nose2Grammar) FailureLine(line string) bool {
	return nose2FailLineRe.MatchString(line)
}

// CollectionError: like unittest, nose2 exits non-zero for loader and
// discovery failures and has no dedicated empty-suite exit code.
func (g *nose2Grammar) CollectionError(exitCode int) bool {
	return exitCode != 0
}

func (g *nose2Grammar) Parse(output string, exitCode int) (*testrun.TestOutcome, error) {
	return parseDotted(g.Runner(), nose2HeaderRe, output, exitCode)
}
