// Package token bounds textual payloads to a token budget so downstream LLM
// consumers never receive more than they asked for.
package token

// Counter estimates how many tokens a piece of text costs. Implementations
// must be monotonic: a longer string never counts fewer tokens than any of
// its prefixes. The exact tokenizer is swappable; consistency within a run is
// what matters.
type Counter interface {
	Count(text string) int
}

// MinBudget is the smallest budget the coordinator accepts. Below this there
// is no room for even the counts and a one-line summary.
const MinBudget = 50

// Heuristic approximates tokens as ceil(len/4). Four characters per token is
// the usual English-prose average and errs on the generous side for code, so
// budgets are respected without an exact tokenizer dependency.
type Heuristic struct{}

func (Heuristic) Count(text string) int {
	return (len(text) + 3) / 4
}
