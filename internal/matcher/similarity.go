package matcher

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// NormalizeProductText lowercases a product code or name, strips punctuation
// and collapses runs of whitespace, so that cosmetic differences ("ORG-Kale "
// vs "org kale") do not dominate the edit distance.
func NormalizeProductText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Similarity computes the normalized Levenshtein similarity between two
// strings after normalization: 1 - editDistance(a,b) / max(len(a), len(b)).
// Identical strings (including two empty strings) score 1.0.
func Similarity(a, b string) float64 {
	na := NormalizeProductText(a)
	nb := NormalizeProductText(b)

	if na == nb {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(na)
	if l := utf8.RuneCountInString(nb); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(na, nb)
	return 1.0 - float64(distance)/float64(maxLen)
}
