// Package textnorm normalizes supplier text for comparison: lookup keys,
// slugs, trigram similarity and size-token handling.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Key returns a comparison key: NFKC, case folded, ё folded to е, punctuation
// replaced by spaces and whitespace collapsed.
func Key(s string) string {
	s = norm.NFKC.String(s)
	s = folder.String(s)
	s = strings.ReplaceAll(s, "ё", "е")

	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func Slug(s string) string {
	return strings.ReplaceAll(Key(s), " ", "-")
}

// Trigrams splits s into pg_trgm style trigrams: each word is padded with two
// leading spaces and one trailing space.
func Trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(Key(s)) {
		rs := []rune("  " + w + " ")
		for i := 0; i+3 <= len(rs); i++ {
			out[string(rs[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Similarity is the Jaccard index of the trigram sets of a and b, matching
// pg_trgm's similarity().
func Similarity(a, b string) float64 {
	ta := Trigrams(a)
	tb := Trigrams(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}

	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}
