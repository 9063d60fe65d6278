// Package similarity scores how close two short strings are on a 0-100 scale.
package similarity

import (
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// Exact is returned for equal strings after normalization.
	Exact = 100
	// Containment is returned when one string contains the other.
	Containment = 80
)

// Score compares a and b case-insensitively after trimming whitespace.
//
// Equal strings score 100 and substring containment in either direction
// scores 80. Otherwise the shorter string is aligned against the prefix of
// the longer one and every differing or unmatched position counts as a
// mismatch: round((1 - mismatches/len(longer)) * 100). This is a cheap
// positional approximation, not an edit distance.
func Score(a, b string) int {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return Exact
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return Containment
	}

	longer, shorter := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}

	mismatches := len(longer) - len(shorter)
	for i, r := range shorter {
		if longer[i] != r {
			mismatches++
		}
	}

	ratio := float64(mismatches) / float64(len(longer))
	return int(math.Round((1 - ratio) * 100))
}

// normalize trims and lower-cases s. A fresh caser is used per call since
// cases.Caser is not safe for concurrent use.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Lower(language.Und).String(s)
}
