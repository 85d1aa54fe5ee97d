package companion

import (
	"strings"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/memory"
)

const summaryPreamble = "What you remember about this person from earlier conversations:\n"

// BuildContext assembles the completion context in its fixed order: the
// persona prompt, then the rolling summary as one system message when there
// is one, then the recent turns oldest first.
func BuildContext(persona string, rec memory.Record) []brain.Message {
	msgs := make([]brain.Message, 0, len(rec.RecentTurns)+2)
	msgs = append(msgs, brain.Message{Role: string(memory.RoleSystem), Content: persona})
	if summary := strings.TrimSpace(rec.Summary); summary != "" {
		msgs = append(msgs, brain.Message{Role: string(memory.RoleSystem), Content: summaryPreamble + summary})
	}
	for _, t := range rec.RecentTurns {
		msgs = append(msgs, brain.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}
