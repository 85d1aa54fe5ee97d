package transport

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks content into chunks of at most limit runes, preferring
// a newline and then a space near the end of each chunk. Fenced code blocks
// are not split when the closing fence is within reach.
func SplitMessage(content string, limit int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(content) <= limit {
		return []string{content}
	}

	var chunks []string
	for content != "" {
		runes := []rune(content)
		if len(runes) <= limit {
			chunks = append(chunks, content)
			break
		}
		window := string(runes[:limit])

		end := lastIndexWithin(window, "\n", limit/5)
		if end <= 0 {
			end = lastIndexWithin(window, " ", limit/10)
		}
		if end <= 0 {
			end = len(window)
		}
		if open := unclosedFence(window[:end]); open > 0 {
			end = open
		}

		chunks = append(chunks, strings.TrimSpace(content[:end]))
		content = strings.TrimSpace(content[end:])
	}
	return chunks
}

// lastIndexWithin finds sep among the last window runes of s.
func lastIndexWithin(s, sep string, window int) int {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return -1
	}
	if utf8.RuneCountInString(s[i:]) > window+1 {
		return -1
	}
	return i
}

// unclosedFence returns the offset of a trailing ``` that has no closing
// fence, or -1.
func unclosedFence(s string) int {
	if strings.Count(s, "```")%2 == 0 {
		return -1
	}
	return strings.LastIndex(s, "```")
}
