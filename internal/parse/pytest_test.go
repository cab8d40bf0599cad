package parse

import (
	"reflect"
	"strings"
	"testing"

	"github.com/testwarden/testwarden/internal/testrun"
)

const pytestAllPassed = `============================= test session starts ==============================
collected 3 items

tests/test_math.py::test_add PASSED                                      [ 33%]
tests/test_math.py::test_sub PASSED                                      [ 66%]
tests/test_math.py::test_mul PASSED                                      [100%]

============================== 3 passed in 0.02s ===============================
`

const pytestOneFailed = `============================= test session starts ==============================
collected 1 item

test_foo.py::test_bar FAILED                                             [100%]

=================================== FAILURES ===================================
___________________________________ test_bar ___________________________________

    def test_bar():
>       assert add(1, 1) == 3
E       AssertionError: boom

test_foo.py:7: AssertionError
=========================== short test summary info ============================
FAILED test_foo.py::test_bar - AssertionError: boom
============================== 1 failed in 0.05s ===============================
`

func TestPytestAllPassed(t *testing.T) {
	out, err := Parse(testrun.RunnerPytest, pytestAllPassed, "", 0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	want := testrun.Counts{Passed: 3}
	if out.Counts != want {
		t.Errorf("expected counts %+v, got %+v", want, out.Counts)
	}
	if out.SummaryText != "3 passed in 0.02s" {
		t.Errorf("unexpected summary: %q", out.SummaryText)
	}
	if len(out.FailingTests) != 0 {
		t.Errorf("expected no failing tests, got %v", out.FailingTests)
	}
	if len(out.PassedTests) != 3 {
		t.Errorf("expected 3 passed test ids, got %v", out.PassedTests)
	}
}

func TestPytestOneFailed(t *testing.T) {
	out, err := Parse(testrun.RunnerPytest, pytestOneFailed, "", 1)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if out.Counts.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", out.Counts.Failed)
	}
	if len(out.FailingTests) != 1 {
		t.Fatalf("expected 1 failing test, got %v", out.FailingTests)
	}
	ft := out.FailingTests[0]
	if ft.TestID != "test_foo.py::test_bar" {
		t.Errorf("unexpected failing test id: %q", ft.TestID)
	}
	if ft.ShortMessage != "AssertionError: boom" {
		t.Errorf("unexpected short message: %q", ft.ShortMessage)
	}
}

func TestPytestTrailerCountsWin(t *testing.T) {
	// Output cut mid-stream: only one verbose line survived but the trailer
	// reports the full totals.
	output := `tests/test_math.py::test_add PASSED
========== 5 passed, 2 failed, 1 skipped, 1 xfailed in 1.20s ==========
`
	out, err := Parse(testrun.RunnerPytest, output, "", 1)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := testrun.Counts{Passed: 5, Failed: 2, Skipped: 1, XFailed: 1}
	if out.Counts != want {
		t.Errorf("expected counts %+v, got %+v", want, out.Counts)
	}
}

func TestPytestNormalizesANSIAndCR(t *testing.T) {
	output := "tests/test_math.py::test_add \x1b[32mPASSED\x1b[0m\r\n" +
		"=== \x1b[32m1 passed\x1b[0m in 0.01s ===\r\n"
	out, err := Parse(testrun.RunnerPytest, output, "", 0)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Counts.Passed != 1 {
		t.Errorf("expected 1 passed after normalization, got %+v", out.Counts)
	}
	if len(out.PassedTests) != 1 || out.PassedTests[0] != "tests/test_math.py::test_add" {
		t.Errorf("unexpected passed ids: %v", out.PassedTests)
	}
}

func TestPytestNoTestsCollected(t *testing.T) {
	output := `============================= test session starts ==============================
collected 0 items

============================ no tests ran in 0.01s =============================
`
	out, err := Parse(testrun.RunnerPytest, output, "", 5)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Counts.Total() != 0 {
		t.Errorf("expected zero counts, got %+v", out.Counts)
	}

	// Exit 5 is an empty suite, not a collection failure.
	g := &pytestGrammar{}
	if g.CollectionError(5) {
		t.Error("exit code 5 must not be a collection error")
	}
	if !g.CollectionError(2) {
		t.Error("exit code 2 with no tests must be a collection error")
	}
}

func TestPytestCrashWithoutTrailer(t *testing.T) {
	output := `Traceback (most recent call last):
  File "conftest.py", line 2, in <module>
    import missing_module
ModuleNotFoundError: No module named 'missing_module'
`
	out, err := Parse(testrun.RunnerPytest, output, "", 4)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if out.Counts.Total() != 0 {
		t.Errorf("expected zero counts, got %+v", out.Counts)
	}
	if !strings.Contains(out.SummaryText, "ModuleNotFoundError") {
		t.Errorf("expected crash text in summary, got %q", out.SummaryText)
	}
}

func TestPytestEmptyOutputIsParseError(t *testing.T) {
	if _, err := Parse(testrun.RunnerPytest, "", "", 1); err == nil {
		t.Fatal("expected a parse error for empty output")
	}
}

func TestPytestParseIsIdempotent(t *testing.T) {
	first, err := Parse(testrun.RunnerPytest, pytestOneFailed, "", 1)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := Parse(testrun.RunnerPytest, pytestOneFailed, "", 1)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("parse is not idempotent: %+v vs %+v", first, again)
		}
	}
}

func TestPytestFailureLine(t *testing.T) {
	g := &pytestGrammar{}
	failing := []string{
		"tests/test_math.py::test_sub FAILED                                 [ 66%]",
		"tests/test_math.py::test_div ERROR",
		"FAILED test_foo.py::test_bar - AssertionError: boom",
	}
	for _, line := range failing {
		if !g.FailureLine(Normalize(line)) {
			t.Errorf("expected failure line: %q", line)
		}
	}
	passing := []string{
		"tests/test_math.py::test_add PASSED                                 [ 33%]",
		"=================================== FAILURES ===================================",
		"collected 3 items",
	}
	for _, line := range passing {
		if g.FailureLine(Normalize(line)) {
			t.Errorf("unexpected failure line: %q", line)
		}
	}
}
