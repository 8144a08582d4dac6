package reconcile

import (
	"strings"
	"unicode"
)

// Normalize trims and lowercases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FuzzyKey is Normalize(s) with every rune that is not a letter or digit
// removed, so "100% (No Cuts)" and "100 No Cuts" both become "100nocuts".
func FuzzyKey(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, Normalize(s))
}

// Similarity scores a and b in [0,1] by comparing runes position by position
// against the longer string. Positions past the end of the shorter string
// count as mismatches. This is not an edit distance: an insertion near the
// start shifts every later rune and scores poorly. The match floors that use
// it are tuned to this behavior.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer, shorter := ra, rb
	if len(rb) > len(ra) {
		longer, shorter = rb, ra
	}
	if len(longer) == 0 {
		return 1
	}

	mismatches := 0
	for i := range longer {
		if i >= len(shorter) || longer[i] != shorter[i] {
			mismatches++
		}
	}
	return float64(len(longer)-mismatches) / float64(len(longer))
}
