package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type redaction struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: card numbers would otherwise match the phone pattern.
var redactions = []redaction{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card numbers and phone numbers in input.
func RedactPII(input string) (redacted string, changed bool) {
	redacted = input
	for _, r := range redactions {
		redacted = r.pattern.ReplaceAllString(redacted, r.mask)
	}
	return redacted, redacted != input
}

// Preview returns a redacted, single-line prefix of text for log attributes.
func Preview(text string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 80
	}
	out, _ := RedactPII(strings.Join(strings.Fields(text), " "))
	if utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "…"
}

// MaskUserID keeps the channel prefix and the last four characters of a user
// id. WhatsApp ids are phone numbers and must not reach the logs verbatim.
func MaskUserID(id string) string {
	prefix := ""
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		prefix, id = id[:i+1], id[i+1:]
	}
	n := utf8.RuneCountInString(id)
	if n <= 4 {
		return prefix + strings.Repeat("*", n)
	}
	runes := []rune(id)
	return prefix + strings.Repeat("*", n-4) + string(runes[n-4:])
}
