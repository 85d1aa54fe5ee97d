package compaction

import (
	"fmt"

	"github.com/ent0n29/reysq/internal/memory"
)

// Mode decides how much of the window survives a compaction.
type Mode string

const (
	// ModeRetain keeps the newest KeepTurns turns verbatim.
	ModeRetain Mode = "retain"
	// ModeClear folds every earlier turn into the summary and keeps only the
	// turn being answered.
	ModeClear Mode = "clear"
)

// FailureMode decides what happens to the window when summarizing fails.
type FailureMode string

const (
	// FailureTruncate keeps the previous summary and drops the evicted turns.
	FailureTruncate FailureMode = "truncate"
	// FailureReset drops the evicted turns and replaces the summary with ResetMarker.
	FailureReset FailureMode = "reset"
)

// ResetMarker replaces the summary under FailureReset.
const ResetMarker = "Summary failed. Memory cleared."

// Policy bounds the recent-turn window of a conversation record.
type Policy struct {
	MaxTurns         int
	Mode             Mode
	KeepTurns        int
	FailureMode      FailureMode
	SummaryMaxTokens int
}

func (p Policy) Validate() error {
	if p.MaxTurns < 2 {
		return fmt.Errorf("max turns must be at least 2, got %d", p.MaxTurns)
	}
	switch p.Mode {
	case ModeRetain:
		if p.KeepTurns < 1 || p.KeepTurns >= p.MaxTurns {
			return fmt.Errorf("keep turns must be between 1 and %d, got %d", p.MaxTurns-1, p.KeepTurns)
		}
	case ModeClear:
	default:
		return fmt.Errorf("unknown compaction mode %q", p.Mode)
	}
	switch p.FailureMode {
	case FailureTruncate, FailureReset:
	default:
		return fmt.Errorf("unknown compaction failure mode %q", p.FailureMode)
	}
	if p.SummaryMaxTokens <= 0 {
		return fmt.Errorf("summary max tokens must be positive")
	}
	return nil
}

// Needed reports whether a window holding n turns, the newest being the user
// turn about to be answered, must be compacted so the reply still fits in
// MaxTurns.
func (p Policy) Needed(n int) bool {
	return n+1 > p.MaxTurns
}

func (p Policy) keepCount() int {
	keep := p.KeepTurns
	if p.Mode == ModeClear {
		keep = 1
	}
	if keep < 1 {
		keep = 1
	}
	if keep > p.MaxTurns-1 {
		keep = p.MaxTurns - 1
	}
	return keep
}

// Partition splits turns into the oldest turns to fold into the summary and
// the newest turns to keep verbatim. Neither result aliases turns.
func (p Policy) Partition(turns []memory.Turn) (evicted, kept []memory.Turn) {
	keep := p.keepCount()
	if keep > len(turns) {
		keep = len(turns)
	}
	cut := len(turns) - keep
	evicted = append([]memory.Turn(nil), turns[:cut]...)
	kept = append([]memory.Turn{}, turns[cut:]...)
	return evicted, kept
}
