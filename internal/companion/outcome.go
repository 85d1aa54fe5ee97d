package companion

import "github.com/ent0n29/reysq/internal/gate"

// Status is the definite result of one turn.
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusRejected    Status = "rejected"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// ReasonUnsupported marks turns answered with the text-or-voice notice.
const ReasonUnsupported gate.Reason = "unsupported"

// Degradation names a collaborator whose failure was recovered locally.
type Degradation string

const (
	DegradedTranscription Degradation = "transcription"
	DegradedCompaction    Degradation = "compaction"
	DegradedCompletion    Degradation = "completion"
	DegradedSynthesis     Degradation = "synthesis"
)

// Outcome reports what happened to a turn. Handle always returns one.
type Outcome struct {
	Status Status
	// Reason is set for rejected turns.
	Reason gate.Reason
	// Reply is the text sent (or, on delivery failure, meant to be sent).
	Reply          string
	Welcome        bool
	Compacted      bool
	Degraded       []Degradation
	DeliveryFailed bool
	// Err carries the underlying failure for unavailable turns and for
	// recovered degradations, for logging only.
	Err error
}

func (o Outcome) degraded(d Degradation) Outcome {
	o.Degraded = append(o.Degraded, d)
	return o
}

// IsDegraded reports whether d was recovered during the turn.
func (o Outcome) IsDegraded(d Degradation) bool {
	for _, got := range o.Degraded {
		if got == d {
			return true
		}
	}
	return false
}
