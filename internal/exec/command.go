package exec

import (
	"strconv"

	"github.com/testwarden/testwarden/internal/errors"
	"github.com/testwarden/testwarden/internal/testrun"
)

// BuildArgv builds the runner command line for a request. Verbose output is
// always requested because the per-test lines are what the parser feeds on.
// When selected is non-empty it replaces the request's test path with an
// explicit list of test identifiers (the last-failed selection).
func BuildArgv(req testrun.RunRequest, selected []string) ([]string, error) {
	var argv []string

	switch req.Runner {
	case testrun.RunnerPytest:
		argv = []string{"python", "-m", "pytest", "-v"}
		if req.MaxFailures == 1 {
			argv = append(argv, "-x")
		} else if req.MaxFailures > 1 {
			argv = append(argv, "--maxfail="+strconv.Itoa(req.MaxFailures))
		}
		switch {
		case len(selected) > 0:
			argv = append(argv, selected...)
		case req.TestPath != "":
			argv = append(argv, req.TestPath)
		}

	case testrun.RunnerUnittest:
		switch {
		case len(selected) > 0:
			argv = append([]string{"python", "-m", "unittest", "-v"}, selected...)
		case req.TestPath != "":
			argv = []string{"python", "-m", "unittest", "discover", "-v", "-s", ".", "-p", req.TestPath}
		default:
			argv = []string{"python", "-m", "unittest", "discover", "-v", "-s", "."}
		}
		if req.MaxFailures == 1 {
			argv = append(argv, "--failfast")
		}

	case testrun.RunnerNose2:
		argv = []string{"python", "-m", "nose2", "-v"}
		if req.MaxFailures == 1 {
			argv = append(argv, "--fail-fast")
		}
		switch {
		case len(selected) > 0:
			argv = append(argv, selected...)
		case req.TestPath != "":
			argv = append(argv, req.TestPath)
		}

	default:
		return nil, errors.NewConfigurationError("unknown test runner: "+string(req.Runner), "use pytest, unittest, or nose2")
	}

	return append(argv, req.ExtraArgs...), nil
}
