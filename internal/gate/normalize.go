package gate

import (
	"strings"
	"unicode"
)

// Normalize lowercases text, drops punctuation and collapses whitespace.
// Emoji and other symbols are kept, so "👍" still matches itself.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsPunct(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
