package manager

import "unicode/utf8"

// estimateTokens is a coarse characters/4 heuristic, rounded up.
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// safeBudget returns the token budget for a request: what the context window
// leaves after the prompt and the safety margin, never below 1. A requested
// value <= 0 means "as much as allowed"; larger requests are clamped.
func safeBudget(contextWindow, promptTokens, margin, requested int) int {
	allowed := contextWindow - promptTokens - margin
	if allowed < 1 {
		allowed = 1
	}
	if requested <= 0 || requested > allowed {
		return allowed
	}
	return requested
}
