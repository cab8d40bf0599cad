package token

import (
	"fmt"
	"strings"
	"testing"

	"github.com/testwarden/testwarden/internal/testrun"
)

func TestHeuristicCount(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"a":     1,
		"abcd":  1,
		"abcde": 2,
	}
	for text, want := range cases {
		if got := (Heuristic{}).Count(text); got != want {
			t.Errorf("Count(%q) = %d, want %d", text, got, want)
		}
	}
}

func TestTruncateFitsUntouched(t *testing.T) {
	out := &testrun.TestOutcome{
		Counts:      testrun.Counts{Passed: 2},
		SummaryText: "2 passed in 0.01s",
		PassedTests: []string{"test_a", "test_b"},
	}
	raw := "test_a PASSED\ntest_b PASSED\n2 passed in 0.01s\n"

	got, details := Truncate(out, raw, 4000, Heuristic{})
	if got.Truncated {
		t.Error("expected no truncation under a generous budget")
	}
	if details != raw {
		t.Errorf("expected raw output preserved, got %q", details)
	}
	if len(got.PassedTests) != 2 {
		t.Errorf("expected passed list preserved, got %v", got.PassedTests)
	}
}

func TestTruncateManyFailures(t *testing.T) {
	out := &testrun.TestOutcome{
		Counts:      testrun.Counts{Failed: 200},
		SummaryText: "200 failed in 3.21s",
	}
	var rawLines []string
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("tests/test_big.py::test_case_%03d", i)
		out.FailingTests = append(out.FailingTests, testrun.FailingTest{
			TestID:       id,
			ShortMessage: "assert False",
		})
		rawLines = append(rawLines, id+" FAILED")
	}
	raw := strings.Join(rawLines, "\n")

	got, _ := Truncate(out, raw, 50, Heuristic{})
	if !got.Truncated {
		t.Fatal("expected truncation at a 50-token budget")
	}
	if len(got.FailingTests) >= 200 {
		t.Errorf("expected fewer failing entries than the original 200, got %d", len(got.FailingTests))
	}
	if got.Counts.Failed != 200 {
		t.Errorf("counts must report the true total, got %d", got.Counts.Failed)
	}
	if got.SummaryText != "200 failed in 3.21s" {
		t.Errorf("summary must survive truncation, got %q", got.SummaryText)
	}

	// Entries are kept from the front, in order of appearance.
	for i, ft := range got.FailingTests {
		if ft.TestID != out.FailingTests[i].TestID {
			t.Errorf("entry %d reordered: %q", i, ft.TestID)
		}
	}
}

func TestTruncateDropsNameListsFirst(t *testing.T) {
	out := &testrun.TestOutcome{
		Counts:       testrun.Counts{Passed: 50, Failed: 1, Skipped: 10},
		SummaryText:  "1 failed, 50 passed, 10 skipped in 2.00s",
		FailingTests: []testrun.FailingTest{{TestID: "tests/test_a.py::test_x", ShortMessage: "boom"}},
	}
	for i := 0; i < 50; i++ {
		out.PassedTests = append(out.PassedTests, fmt.Sprintf("tests/test_a.py::test_pass_%02d", i))
	}
	for i := 0; i < 10; i++ {
		out.SkippedTests = append(out.SkippedTests, fmt.Sprintf("tests/test_a.py::test_skip_%02d", i))
	}
	raw := strings.Repeat("a failing line of output\n", 40)

	got, _ := Truncate(out, raw, 120, Heuristic{})
	if !got.Truncated {
		t.Fatal("expected truncation")
	}
	if len(got.PassedTests) != 0 || len(got.SkippedTests) != 0 {
		t.Errorf("expected the name lists dropped before the failing entries, got %d/%d",
			len(got.PassedTests), len(got.SkippedTests))
	}
	if len(got.FailingTests) != 1 {
		t.Errorf("expected the failing entry kept, got %v", got.FailingTests)
	}
}

func TestTruncateStaysWithinBudget(t *testing.T) {
	c := Heuristic{}
	out := &testrun.TestOutcome{
		Counts:      testrun.Counts{Failed: 20},
		SummaryText: "20 failed in 1.00s",
	}
	for i := 0; i < 20; i++ {
		out.FailingTests = append(out.FailingTests, testrun.FailingTest{
			TestID:       fmt.Sprintf("tests/test_b.py::test_%02d", i),
			ShortMessage: "AssertionError",
		})
	}
	raw := strings.Repeat("some traceback line with detail\n", 100)

	for _, budget := range []int{MinBudget, 100, 250, 500, 1000} {
		got, details := Truncate(out, raw, budget, c)
		if !got.Truncated {
			continue
		}
		used := c.Count(got.SummaryText) + countsCost(got.Counts, c) + c.Count(details)
		for _, ft := range got.FailingTests {
			used += entryCost(ft, c)
		}
		if used > budget {
			t.Errorf("budget %d exceeded: used %d", budget, used)
		}
	}
}

func TestTruncateDetailGrowsWithBudget(t *testing.T) {
	out := &testrun.TestOutcome{
		Counts:      testrun.Counts{Passed: 1},
		SummaryText: "1 passed in 0.01s",
	}
	raw := strings.Repeat("line of output padding here\n", 200)

	prev := -1
	for _, budget := range []int{MinBudget, 100, 200, 400, 800} {
		_, details := Truncate(out, raw, budget, Heuristic{})
		if len(details) < prev {
			t.Errorf("detail shrank at budget %d: %d < %d", budget, len(details), prev)
		}
		prev = len(details)
	}
}

func TestHeadTailKeepsBothEnds(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, fmt.Sprintf("line %03d of the captured output", i))
	}
	text := strings.Join(lines, "\n")

	got := headTail(text, 100, Heuristic{})
	if !strings.Contains(got, truncationMarker) {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if !strings.Contains(got, "line 000") {
		t.Error("expected the head to survive")
	}
	if !strings.Contains(got, "line 099") {
		t.Error("expected the tail to survive")
	}
}

func TestHeadTailTinyBudget(t *testing.T) {
	if got := headTail("something long enough to not fit", 0, Heuristic{}); got != "" {
		t.Errorf("expected empty detail at zero budget, got %q", got)
	}
}
