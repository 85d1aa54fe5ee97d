package compaction

import (
	"strings"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/memory"
)

const summaryInstruction = `Fold the conversation below into a short clinical memory of the user.
Keep symptoms and how they changed over time, the user's emotional tone, and any open plans or follow-ups.
Drop anything that was resolved or is no longer relevant.
Reply with the memory only, in a few sentences.`

// BuildRequest assembles the completion request that folds evicted turns into
// the previous summary.
func BuildRequest(previous string, evicted []memory.Turn) []brain.Message {
	msgs := []brain.Message{{Role: string(memory.RoleSystem), Content: summaryInstruction}}
	if s := strings.TrimSpace(previous); s != "" {
		msgs = append(msgs, brain.Message{
			Role:    string(memory.RoleSystem),
			Content: "Memory so far:\n" + s,
		})
	}
	msgs = append(msgs, brain.Message{
		Role:    string(memory.RoleUser),
		Content: "Conversation to fold in:\n" + Transcript(evicted),
	})
	return msgs
}

// Transcript renders turns one per line as "role: content".
func Transcript(turns []memory.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(t.Content))
	}
	return b.String()
}
