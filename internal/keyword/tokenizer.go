// Package keyword maintains an inverted index over chunk text and ranks
// matches with BM25.
package keyword

import (
	"strings"
	"unicode"
)

// Tokenize lower-cases text and splits it into terms. Runs of letters and
// digits form one term; punctuation is stripped; Han characters are emitted
// as single-character terms so mixed CJK/Latin text remains searchable.
// No stemming is applied.
func Tokenize(text string) []string {
	var (
		tokens []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
