package token

import (
	"fmt"
	"strings"

	"github.com/testwarden/testwarden/internal/testrun"
)

const truncationMarker = "... [output truncated] ..."

// Truncate bounds an outcome and its raw output to the token budget.
//
// Priority order: counts and summary text are never trimmed; the passed and
// skipped name lists go first; failing-test entries are kept whole from the
// front (dropping the last-seen entries first); the raw detail gets whatever
// budget is left as a head+tail window, because the initial failure context
// and the final summary sit at the two ends of runner output.
//
// The input outcome is not modified; the returned outcome carries the
// truncated detail and the Truncated flag.
func Truncate(out *testrun.TestOutcome, raw string, budget int, c Counter) (*testrun.TestOutcome, string) {
	dup := out.Clone()

	reserved := c.Count(dup.SummaryText) + countsCost(dup.Counts, c)
	remaining := budget - reserved
	if remaining < 0 {
		remaining = 0
	}

	entriesCost := 0
	for _, ft := range dup.FailingTests {
		entriesCost += entryCost(ft, c)
	}
	listsCost := 0
	for _, id := range dup.PassedTests {
		listsCost += c.Count(id) + 1
	}
	for _, id := range dup.SkippedTests {
		listsCost += c.Count(id) + 1
	}

	if entriesCost+listsCost+c.Count(raw) <= remaining {
		dup.Details = raw
		dup.Truncated = false
		return dup, raw
	}

	dup.Truncated = true
	dup.PassedTests = nil
	dup.SkippedTests = nil

	used := 0
	kept := 0
	for _, ft := range dup.FailingTests {
		cost := entryCost(ft, c)
		if used+cost > remaining {
			break
		}
		used += cost
		kept++
	}
	dup.FailingTests = dup.FailingTests[:kept]

	details := headTail(raw, remaining-used, c)
	dup.Details = details
	return dup, details
}

// headTail keeps the first and last lines of text that fit the budget, with
// a marker in between.
func headTail(text string, budget int, c Counter) string {
	if budget <= 0 {
		return ""
	}
	if c.Count(text) <= budget {
		return text
	}

	markerCost := c.Count(truncationMarker) + 1
	if budget <= markerCost {
		return ""
	}
	budget -= markerCost

	lines := strings.Split(text, "\n")
	head, tail := 0, 0
	used := 0
	// Alternate between the two ends so neither starves.
	for head+tail < len(lines) {
		var next string
		fromHead := head <= tail
		if fromHead {
			next = lines[head]
		} else {
			next = lines[len(lines)-1-tail]
		}
		cost := c.Count(next) + 1
		if used+cost > budget {
			break
		}
		used += cost
		if fromHead {
			head++
		} else {
			tail++
		}
	}

	if head+tail >= len(lines) {
		return text
	}

	var b strings.Builder
	for _, line := range lines[:head] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(truncationMarker)
	for _, line := range lines[len(lines)-tail:] {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

func entryCost(ft testrun.FailingTest, c Counter) int {
	return c.Count(ft.TestID) + c.Count(ft.ShortMessage) + 1
}

func countsCost(counts testrun.Counts, c Counter) int {
	return c.Count(fmt.Sprintf("%d passed, %d failed, %d errored, %d skipped, %d xfailed",
		counts.Passed, counts.Failed, counts.Errored, counts.Skipped, counts.XFailed))
}
