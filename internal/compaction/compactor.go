package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/memory"
)

// ErrCompaction wraps a failed fold. The record returned alongside it has
// already had the failure policy applied.
var ErrCompaction = errors.New("compaction failed")

// Options tune a Compactor beyond its Policy.
type Options struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// Result describes what a Compact call did.
type Result struct {
	Evicted  int
	Kept     int
	Cached   bool
	Degraded bool
}

// Compactor folds the oldest turns of a record into its rolling summary.
type Compactor struct {
	policy    Policy
	completer brain.Completer
	cache     *summaryCache
	timeout   time.Duration
	logger    *slog.Logger
}

func New(policy Policy, completer brain.Completer, opts Options) (*Compactor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if completer == nil {
		return nil, errors.New("compactor requires a completer")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		policy:    policy,
		completer: completer,
		cache:     newSummaryCache(opts.CacheSize, opts.CacheTTL),
		timeout:   timeout,
		logger:    logger.With("component", "compaction"),
	}, nil
}

func (c *Compactor) Policy() Policy { return c.policy }

// Needed reports whether rec must be compacted before it is answered.
func (c *Compactor) Needed(rec memory.Record) bool {
	return c.policy.Needed(len(rec.RecentTurns))
}

// Compact returns a new record with the evicted turns folded into the
// summary. rec itself is never modified. On failure the returned record has
// the failure policy applied and err wraps ErrCompaction.
func (c *Compactor) Compact(ctx context.Context, rec memory.Record) (memory.Record, Result, error) {
	evicted, kept := c.policy.Partition(rec.RecentTurns)
	res := Result{Evicted: len(evicted), Kept: len(kept)}
	if len(evicted) == 0 {
		return rec.Clone(), res, nil
	}

	key := Fingerprint(rec.Summary, evicted)
	summary, ok := c.cache.get(key)
	if ok {
		res.Cached = true
	} else {
		var err error
		summary, err = c.summarize(ctx, rec.Summary, evicted)
		if err != nil {
			res.Degraded = true
			c.logger.Warn("compaction failed, applying fallback",
				"user_id", rec.UserID,
				"evicted", len(evicted),
				"failure_mode", string(c.policy.FailureMode),
				"error", err,
			)
			return c.fallback(rec, kept), res, fmt.Errorf("%w: %w", ErrCompaction, err)
		}
		c.cache.put(key, summary)
	}

	out := rec.Clone()
	out.Summary = summary
	out.RecentTurns = kept
	out.Compactions++
	c.logger.Debug("compacted conversation",
		"user_id", rec.UserID,
		"evicted", len(evicted),
		"kept", len(kept),
		"cached", res.Cached,
	)
	return out, res, nil
}

func (c *Compactor) summarize(ctx context.Context, previous string, evicted []memory.Turn) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.completer.Complete(callCtx, BuildRequest(previous, evicted), c.policy.SummaryMaxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("empty summary")
	}
	return text, nil
}

func (c *Compactor) fallback(rec memory.Record, kept []memory.Turn) memory.Record {
	out := rec.Clone()
	out.RecentTurns = kept
	if c.policy.FailureMode == FailureReset {
		out.Summary = ResetMarker
	}
	return out
}
