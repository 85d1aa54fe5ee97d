package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/compaction"
	"github.com/ent0n29/reysq/internal/gate"
	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/observability"
	"github.com/ent0n29/reysq/internal/policy"
	"github.com/ent0n29/reysq/internal/session"
	"github.com/ent0n29/reysq/internal/transport"
	"github.com/ent0n29/reysq/internal/voice"
)

// Config holds the processor's fixed texts and budgets.
type Config struct {
	PersonaPrompt        string
	WelcomeEnabled       bool
	WelcomeMessage       string
	FallbackReply        string
	TranscriptionApology string
	UnsupportedNotice    string
	ReplyMaxTokens       int
	VoiceReplies         bool
	CollaboratorTimeout  time.Duration
}

// Deps are the processor's collaborators. Synthesizer and Metrics may be
// nil; everything else is required.
type Deps struct {
	Store       memory.Store
	Gate        *gate.Gate
	Compactor   *compaction.Compactor
	Completer   brain.Completer
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Router      *transport.Router
	Locks       *session.Manager
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Processor runs one inbound turn from admission to delivery.
type Processor struct {
	cfg         Config
	store       memory.Store
	gate        *gate.Gate
	compactor   *compaction.Compactor
	completer   brain.Completer
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	router      *transport.Router
	locks       *session.Manager
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewProcessor(cfg Config, deps Deps) (*Processor, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("processor requires a memory store")
	case deps.Gate == nil:
		return nil, errors.New("processor requires a gate")
	case deps.Compactor == nil:
		return nil, errors.New("processor requires a compactor")
	case deps.Completer == nil:
		return nil, errors.New("processor requires a completer")
	case deps.Transcriber == nil:
		return nil, errors.New("processor requires a transcriber")
	case deps.Router == nil:
		return nil, errors.New("processor requires a router")
	}
	if strings.TrimSpace(cfg.FallbackReply) == "" {
		return nil, errors.New("fallback reply must not be empty")
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 20 * time.Second
	}
	if cfg.ReplyMaxTokens <= 0 {
		cfg.ReplyMaxTokens = 500
	}
	locks := deps.Locks
	if locks == nil {
		locks = session.NewManager()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:         cfg,
		store:       deps.Store,
		gate:        deps.Gate,
		compactor:   deps.Compactor,
		completer:   deps.Completer,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		router:      deps.Router,
		locks:       locks,
		metrics:     deps.Metrics,
		logger:      logger.With("component", "companion"),
		now:         time.Now,
	}, nil
}

// Locks exposes the per-user lock registry for status reporting.
func (p *Processor) Locks() *session.Manager { return p.locks }

// Handle processes one inbound turn. It never panics into the caller and
// always returns a definite outcome.
func (p *Processor) Handle(ctx context.Context, in transport.Inbound) (out Outcome) {
	start := p.now()
	turnID := uuid.NewString()
	logger := p.logger.With(
		"turn_id", turnID,
		"channel", in.Channel,
		"user_id", policy.MaskUserID(in.UserID),
		"kind", string(in.Kind),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("turn panicked", "panic", r)
			p.gate.Release(in.UserID, in.MessageID)
			out = Outcome{Status: StatusUnavailable, Err: fmt.Errorf("turn panicked: %v", r)}
		}
		elapsed := p.now().Sub(start)
		p.metrics.ObserveTurn(string(out.Status), elapsed)
		logger.Info("turn finished",
			"status", string(out.Status),
			"reason", string(out.Reason),
			"welcome", out.Welcome,
			"compacted", out.Compacted,
			"degraded", out.Degraded,
			"delivery_failed", out.DeliveryFailed,
			"duration_ms", elapsed.Milliseconds(),
		)
	}()

	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = start.UTC()
	}

	stageStart := p.now()
	decision := p.gate.Admit(in)
	p.metrics.ObserveTurnStage("gate", p.now().Sub(stageStart))
	if !decision.Admitted {
		return p.rejected(logger, decision.Reason)
	}

	if in.Kind == transport.KindUnsupported {
		defer p.gate.Release(in.UserID, in.MessageID)
		out = Outcome{Status: StatusRejected, Reason: ReasonUnsupported, Reply: p.cfg.UnsupportedNotice}
		p.metrics.ObserveGateRejection(string(ReasonUnsupported))
		if err := p.deliver(ctx, logger, transport.Reply{Channel: in.Channel, UserID: in.UserID, Text: p.cfg.UnsupportedNotice}); err != nil {
			out.DeliveryFailed = true
		}
		return out
	}

	text := in.Text
	if in.Kind == transport.KindAudio {
		transcript, err := p.transcribe(ctx, in)
		if err != nil {
			logger.Warn("transcription failed", "error", err)
			p.metrics.ObserveCollaboratorError("transcription")
			p.gate.Release(in.UserID, in.MessageID)
			out = Outcome{Status: StatusDegraded, Reply: p.cfg.TranscriptionApology, Err: err}.degraded(DegradedTranscription)
			if derr := p.deliver(ctx, logger, transport.Reply{Channel: in.Channel, UserID: in.UserID, Text: p.cfg.TranscriptionApology}); derr != nil {
				out.DeliveryFailed = true
			}
			return out
		}
		if d := p.gate.CheckContent(transcript); !d.Admitted {
			p.gate.Release(in.UserID, in.MessageID)
			return p.rejected(logger, d.Reason)
		}
		text = transcript
	}

	release, err := p.locks.Acquire(ctx, in.UserID, turnID)
	if err != nil {
		p.gate.Rollback(in)
		return Outcome{Status: StatusUnavailable, Err: fmt.Errorf("wait for user lock: %w", err)}
	}
	defer release()

	return p.converse(ctx, logger, in, text)
}

// converse runs the load → append → compact → complete → persist → deliver
// sequence. The caller holds the user's lock.
func (p *Processor) converse(ctx context.Context, logger *slog.Logger, in transport.Inbound, text string) Outcome {
	var out Outcome

	stageStart := p.now()
	rec, created, err := p.loadOrCreate(ctx, in.UserID)
	p.metrics.ObserveTurnStage("load", p.now().Sub(stageStart))
	if err != nil {
		return p.unavailable(logger, in, err)
	}

	if created && p.cfg.WelcomeEnabled {
		out.Welcome = true
		p.metrics.ObserveWelcome()
		if err := p.deliver(ctx, logger, transport.Reply{Channel: in.Channel, UserID: in.UserID, Text: p.cfg.WelcomeMessage}); err != nil {
			out.DeliveryFailed = true
		}
	}

	if d := p.gate.CheckRecord(rec); !d.Admitted {
		p.gate.Release(in.UserID, in.MessageID)
		rejected := p.rejected(logger, d.Reason)
		rejected.Welcome = out.Welcome
		return rejected
	}

	rec = rec.Append(memory.NewTurn(memory.RoleUser, text, in.ReceivedAt))

	if p.compactor.Needed(rec) {
		stageStart = p.now()
		next, res, err := p.compactor.Compact(ctx, rec)
		p.metrics.ObserveTurnStage("compact", p.now().Sub(stageStart))
		rec = next
		switch {
		case err != nil:
			p.metrics.ObserveCompaction("failed")
			p.metrics.ObserveCollaboratorError("compaction")
			out = out.degraded(DegradedCompaction)
			out.Err = err
		case res.Cached:
			p.metrics.ObserveCompaction("cached")
			out.Compacted = true
		default:
			p.metrics.ObserveCompaction("ok")
			out.Compacted = true
		}
	}

	reply, err := p.complete(ctx, rec)
	if err != nil {
		logger.Warn("completion failed, using fallback reply", "error", err)
		p.metrics.ObserveCollaboratorError("completion")
		reply = p.cfg.FallbackReply
		out = out.degraded(DegradedCompletion)
		out.Err = err
	}
	out.Reply = reply

	now := p.now().UTC()
	rec = rec.Append(memory.NewTurn(memory.RoleAssistant, reply, now))
	rec.LastActivityAt = now

	stageStart = p.now()
	err = p.save(ctx, rec)
	p.metrics.ObserveTurnStage("persist", p.now().Sub(stageStart))
	if err != nil {
		return p.unavailable(logger, in, err)
	}

	outbound := transport.Reply{Channel: in.Channel, UserID: in.UserID, Text: reply}
	if in.Kind == transport.KindAudio && p.cfg.VoiceReplies && p.synthesizer != nil {
		clip, err := p.synthesize(ctx, reply)
		if err != nil {
			logger.Warn("speech synthesis failed, sending text only", "error", err)
			p.metrics.ObserveCollaboratorError("synthesis")
			out = out.degraded(DegradedSynthesis)
		} else {
			outbound.Audio = &clip
		}
	}
	if err := p.deliver(ctx, logger, outbound); err != nil {
		out.DeliveryFailed = true
	}
	p.gate.Complete(in.UserID, now)

	out.Status = StatusDelivered
	if len(out.Degraded) > 0 {
		out.Status = StatusDegraded
	}
	logger.Debug("turn persisted",
		"turns", len(rec.RecentTurns),
		"compactions", rec.Compactions,
		"reply_preview", policy.Preview(reply, 60),
	)
	return out
}

// loadOrCreate and save run under CollaboratorTimeout so a stalled backend
// ends the turn as unavailable instead of pinning the user's lock and claim.
func (p *Processor) loadOrCreate(ctx context.Context, userID string) (memory.Record, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	rec, err := p.store.Load(ctx, userID)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, memory.ErrNotFound) {
		return memory.Record{}, false, storeError("load", err)
	}
	rec, created, err := p.store.Create(ctx, userID)
	if err != nil {
		return memory.Record{}, false, storeError("create", err)
	}
	return rec, created, nil
}

func (p *Processor) save(ctx context.Context, rec memory.Record) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()
	if err := p.store.Save(ctx, rec); err != nil {
		return storeError("save", err)
	}
	return nil
}

// storeError classifies anything the backend did not, a deadline included,
// as ErrUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, memory.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, memory.ErrUnavailable, err)
}

func (p *Processor) transcribe(ctx context.Context, in transport.Inbound) (string, error) {
	stageStart := p.now()
	defer func() { p.metrics.ObserveTurnStage("transcribe", p.now().Sub(stageStart)) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	data, mimeType := in.Audio, in.AudioMIME
	if len(data) == 0 {
		fetched, fetchedMIME, err := p.router.Fetch(ctx, in.Channel, in.MediaID)
		if err != nil {
			return "", fmt.Errorf("%w: fetch media: %w", voice.ErrTranscription, err)
		}
		data = fetched
		if mimeType == "" {
			mimeType = fetchedMIME
		}
	}
	text, err := p.transcriber.Transcribe(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (p *Processor) complete(ctx context.Context, rec memory.Record) (string, error) {
	stageStart := p.now()
	defer func() { p.metrics.ObserveTurnStage("complete", p.now().Sub(stageStart)) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	reply, err := p.completer.Complete(ctx, BuildContext(p.cfg.PersonaPrompt, rec), p.cfg.ReplyMaxTokens)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", brain.ErrCompletion)
	}
	return reply, nil
}

func (p *Processor) synthesize(ctx context.Context, text string) (transport.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()
	return p.synthesizer.Synthesize(ctx, text)
}

// deliver hands a reply to the transport. Failures are logged and counted,
// never retried here.
func (p *Processor) deliver(ctx context.Context, logger *slog.Logger, reply transport.Reply) error {
	stageStart := p.now()
	err := p.router.Deliver(ctx, reply)
	p.metrics.ObserveTurnStage("deliver", p.now().Sub(stageStart))
	p.metrics.ObserveDelivery(reply.Channel, err)
	if err != nil {
		logger.Warn("delivery failed", "error", err, "voice", reply.Audio != nil)
	}
	return err
}

func (p *Processor) rejected(logger *slog.Logger, reason gate.Reason) Outcome {
	p.metrics.ObserveGateRejection(string(reason))
	logger.Debug("turn rejected", "reason", string(reason))
	return Outcome{Status: StatusRejected, Reason: reason}
}

// unavailable ends a turn whose state could not be read or written. The
// admission is rolled back so a redelivery of the same message is processed.
func (p *Processor) unavailable(logger *slog.Logger, in transport.Inbound, err error) Outcome {
	logger.Error("memory store unavailable", "error", err)
	p.metrics.ObserveCollaboratorError("store")
	p.gate.Rollback(in)
	return Outcome{Status: StatusUnavailable, Err: err}
}
