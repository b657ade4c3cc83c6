package alerr

import (
	"fmt"
	"sort"
)

// maxSuggestDistance bounds how far a typo may be from a known name.
const maxSuggestDistance = 3

// editDistance returns the Levenshtein distance between a and b using two rolling rows.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// ClosestMatch returns the option nearest to input, if one is close enough.
// Ties resolve to the lexically smallest option so output is deterministic.
func ClosestMatch(input string, options []string) (string, bool) {
	sorted := append([]string(nil), options...)
	sort.Strings(sorted)

	best, bestDist := "", maxSuggestDistance+1
	for _, opt := range sorted {
		if d := editDistance(input, opt); d < bestDist {
			best, bestDist = opt, d
		}
	}
	return best, bestDist <= maxSuggestDistance
}

// SuggestSimilar returns a "did you mean 'X'?" hint, or "" when nothing is close.
func SuggestSimilar(input string, options []string) string {
	if match, ok := ClosestMatch(input, options); ok && match != input {
		return fmt.Sprintf("did you mean '%s'?", match)
	}
	return ""
}
