package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/transport"
)

// Reason explains why a turn was not admitted.
type Reason string

const (
	ReasonMalformed Reason = "malformed"
	ReasonDuplicate Reason = "duplicate"
	ReasonJunk      Reason = "junk"
	ReasonCooldown  Reason = "cooldown"
	ReasonInflight  Reason = "inflight"
)

// Decision is the gate's verdict on one turn. A rejection is an outcome,
// not an error.
type Decision struct {
	Admitted bool
	Reason   Reason
}

var admitted = Decision{Admitted: true}

func reject(r Reason) Decision { return Decision{Reason: r} }

// Config holds the gate's named policy values.
type Config struct {
	// Cooldown suppresses a user's turns for this long after their previous
	// turn was admitted. Zero disables it.
	Cooldown       time.Duration
	JunkUtterances []string
	DedupeTTL      time.Duration
	DedupeSize     int
}

type claim struct {
	messageID string
	at        time.Time
	inflight  bool
}

// Gate filters duplicate, junk, malformed and too-frequent turns before they
// reach memory or the completion service.
type Gate struct {
	cfg  Config
	junk map[string]struct{}
	now  func() time.Time

	mu     sync.Mutex
	seen   *expirable.LRU[string, struct{}]
	claims map[string]claim
}

func New(cfg Config) *Gate {
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = 4096
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	junk := make(map[string]struct{}, len(cfg.JunkUtterances))
	for _, u := range cfg.JunkUtterances {
		if n := Normalize(u); n != "" {
			junk[n] = struct{}{}
		}
	}
	return &Gate{
		cfg:    cfg,
		junk:   junk,
		now:    time.Now,
		seen:   expirable.NewLRU[string, struct{}](cfg.DedupeSize, nil, cfg.DedupeTTL),
		claims: make(map[string]claim),
	}
}

// Admit validates the turn and, when it passes, marks its message id as seen
// and claims the user so concurrent turns are rejected until Complete,
// Release or Rollback.
func (g *Gate) Admit(in transport.Inbound) Decision {
	if d := validate(in); !d.Admitted {
		return d
	}
	junk := in.Kind == transport.KindText && g.IsJunk(in.Text)

	g.mu.Lock()
	defer g.mu.Unlock()

	if in.MessageID != "" {
		key := dedupeKey(in)
		if g.seen.Contains(key) {
			return reject(ReasonDuplicate)
		}
		g.seen.Add(key, struct{}{})
	}
	if junk {
		return reject(ReasonJunk)
	}
	if g.cfg.Cooldown <= 0 {
		return admitted
	}

	now := g.now()
	if c, ok := g.claims[in.UserID]; ok {
		if c.inflight {
			return reject(ReasonInflight)
		}
		if now.Sub(c.at) < g.cfg.Cooldown {
			return reject(ReasonCooldown)
		}
	}
	g.claims[in.UserID] = claim{messageID: in.MessageID, at: now, inflight: true}
	return admitted
}

// CheckContent applies the junk filter to text that only became known after
// admission, such as a transcribed voice note.
func (g *Gate) CheckContent(text string) Decision {
	if strings.TrimSpace(text) == "" {
		return reject(ReasonMalformed)
	}
	if g.IsJunk(text) {
		return reject(ReasonJunk)
	}
	return admitted
}

// CheckRecord applies the cooldown against the persisted activity time, which
// survives restarts of the in-process claim table.
func (g *Gate) CheckRecord(rec memory.Record) Decision {
	if g.cfg.Cooldown <= 0 || rec.LastActivityAt.IsZero() {
		return admitted
	}
	if g.now().Sub(rec.LastActivityAt) < g.cfg.Cooldown {
		return reject(ReasonCooldown)
	}
	return admitted
}

// Complete ends the user's in-flight turn; the cooldown runs from at.
func (g *Gate) Complete(userID string, at time.Time) {
	if g.cfg.Cooldown <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.claims[userID] = claim{at: at}
}

// Release drops the user's claim without starting a cooldown. The message id
// stays marked, so a redelivery is still a duplicate.
func (g *Gate) Release(userID, messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(userID, messageID)
}

// Rollback drops the user's claim and forgets the message id so the platform
// can redeliver it. Used when the turn failed before anything was persisted.
func (g *Gate) Rollback(in transport.Inbound) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked(in.UserID, in.MessageID)
	if in.MessageID != "" {
		g.seen.Remove(dedupeKey(in))
	}
}

func (g *Gate) releaseLocked(userID, messageID string) {
	c, ok := g.claims[userID]
	if !ok || !c.inflight || c.messageID != messageID {
		return
	}
	delete(g.claims, userID)
}

// IsJunk reports whether text carries nothing worth answering.
func (g *Gate) IsJunk(text string) bool {
	n := Normalize(text)
	if n == "" {
		return strings.TrimSpace(text) != ""
	}
	_, ok := g.junk[n]
	return ok
}

// StartJanitor purges settled claims whose cooldown has elapsed.
func (g *Gate) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.purge()
			}
		}
	}()
}

func (g *Gate) purge() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	removed := 0
	for userID, c := range g.claims {
		if !c.inflight && now.Sub(c.at) >= g.cfg.Cooldown {
			delete(g.claims, userID)
			removed++
		}
	}
	return removed
}

func validate(in transport.Inbound) Decision {
	if strings.TrimSpace(in.UserID) == "" || !in.Kind.Valid() {
		return reject(ReasonMalformed)
	}
	switch in.Kind {
	case transport.KindText:
		if strings.TrimSpace(in.Text) == "" {
			return reject(ReasonMalformed)
		}
	case transport.KindAudio:
		if len(in.Audio) == 0 && strings.TrimSpace(in.MediaID) == "" {
			return reject(ReasonMalformed)
		}
	}
	return admitted
}

func dedupeKey(in transport.Inbound) string {
	return in.Channel + "\x00" + in.MessageID
}
