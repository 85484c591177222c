package agent

import "strings"

// DuplicateThreshold is the normalized similarity above which two node
// names are treated as the same concept.
const DuplicateThreshold = 0.8

// normalizeName lowercases and strips everything but letters and digits,
// so "The Avengers" and "the-avengers" compare equal.
func normalizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// similarity is a Ratcliff/Obershelp-style ratio over normalized names:
// twice the longest-common-subsequence length over the combined length.
// Identical strings score 1; disjoint strings score 0.
func similarity(a, b string) float64 {
	a, b = normalizeName(a), normalizeName(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return 2 * float64(lcsLen(a, b)) / float64(len(a)+len(b))
}

// isDuplicateName reports whether candidate matches existing at or above
// the duplicate threshold.
func isDuplicateName(candidate, existing string) bool {
	return similarity(candidate, existing) >= DuplicateThreshold
}

func lcsLen(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
