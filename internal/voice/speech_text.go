package voice

import (
	"regexp"
	"strings"
	"unicode"
)

type rewrite struct {
	re   *regexp.Regexp
	with string
}

// Applied in order. Links keep their label before bare URLs are dropped.
var speechRewrites = []rewrite{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`), ""},
}

// SpeakableText strips markup, links and emoji from a reply so it reads
// naturally as a voice note. List items and line breaks become sentence
// pauses.
func SpeakableText(raw string) string {
	text := strings.TrimSpace(raw)
	for _, rw := range speechRewrites {
		text = rw.re.ReplaceAllString(text, rw.with)
	}

	var sentences []string
	for _, line := range strings.Split(text, "\n") {
		spoken := strings.Join(strings.Fields(strings.Map(speechRune, line)), " ")
		if spoken == "" {
			continue
		}
		if n := len(sentences); n > 0 && !endsWithPause(sentences[n-1]) {
			sentences[n-1] += "."
		}
		sentences = append(sentences, spoken)
	}
	return strings.Join(sentences, " ")
}

// speechRune maps one rune for the voice engine: -1 drops it, a space
// separates words.
func speechRune(r rune) rune {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return r
	case '*', '_', '\\', '/', '|', '#', '~', '<', '>':
		return ' '
	case '\u200d', '\ufe0f', '\u20e3':
		return -1
	}
	switch {
	case unicode.IsSpace(r), unicode.IsPunct(r):
		return ' '
	case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return -1
	}
	return r
}

func endsWithPause(s string) bool {
	return strings.IndexByte(".!?:;,", s[len(s)-1]) >= 0
}
