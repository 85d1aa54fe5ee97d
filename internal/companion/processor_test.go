package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/reysq/internal/brain"
	"github.com/ent0n29/reysq/internal/compaction"
	"github.com/ent0n29/reysq/internal/gate"
	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/observability"
	"github.com/ent0n29/reysq/internal/transport"
	"github.com/ent0n29/reysq/internal/voice"
)

const (
	testMaxTurns      = 8
	testSummaryTokens = 150
	testReplyTokens   = 500
)

type completionCall struct {
	maxTokens int
	messages  []brain.Message
}

type scriptedCompleter struct {
	mu        sync.Mutex
	calls     []completionCall
	summaryFn func() (string, error)
	replyFn   func(messages []brain.Message) (string, error)
}

func (s *scriptedCompleter) Complete(_ context.Context, messages []brain.Message, maxTokens int) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, completionCall{maxTokens: maxTokens, messages: messages})
	n := len(s.calls)
	summaryFn, replyFn := s.summaryFn, s.replyFn
	s.mu.Unlock()

	if maxTokens == testSummaryTokens {
		if summaryFn != nil {
			return summaryFn()
		}
		return fmt.Sprintf("summary #%d", n), nil
	}
	if replyFn != nil {
		return replyFn(messages)
	}
	return "reply to: " + messages[len(messages)-1].Content, nil
}

func (s *scriptedCompleter) snapshot() []completionCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]completionCall(nil), s.calls...)
}

func (s *scriptedCompleter) count(maxTokens int) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.maxTokens == maxTokens {
			n++
		}
	}
	return n
}

type sink struct {
	mu      sync.Mutex
	replies []transport.Reply
	media   map[string][]byte
	fail    atomic.Bool
}

func (s *sink) Deliver(_ context.Context, reply transport.Reply) error {
	if s.fail.Load() {
		return fmt.Errorf("%w: channel down", transport.ErrDelivery)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
	return nil
}

func (s *sink) FetchMedia(_ context.Context, mediaID string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.media[mediaID]
	if !ok {
		return nil, "", errors.New("no such media")
	}
	return data, "audio/ogg", nil
}

func (s *sink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, r.Text)
	}
	return out
}

type flakyStore struct {
	memory.Store
	failSave atomic.Bool
	// stall makes Load and Save block until their context ends, returning
	// the bare context error like a driver that never answered.
	stall atomic.Bool
}

func (f *flakyStore) Load(ctx context.Context, userID string) (memory.Record, error) {
	if f.stall.Load() {
		<-ctx.Done()
		return memory.Record{}, ctx.Err()
	}
	return f.Store.Load(ctx, userID)
}

func (f *flakyStore) Save(ctx context.Context, rec memory.Record) error {
	if f.stall.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.failSave.Load() {
		return fmt.Errorf("%w: disk on fire", memory.ErrUnavailable)
	}
	return f.Store.Save(ctx, rec)
}

type harness struct {
	proc      *Processor
	store     *flakyStore
	mem       *memory.InMemoryStore
	completer *scriptedCompleter
	sink      *sink
	gate      *gate.Gate
}

type harnessOptions struct {
	cooldown    time.Duration
	failureMode compaction.FailureMode
	mode        compaction.Mode
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	metrics     *observability.Metrics
	cfg         func(*Config)
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	mem := memory.NewInMemoryStore()
	store := &flakyStore{Store: mem}
	completer := &scriptedCompleter{}
	out := &sink{media: map[string][]byte{}}

	router := transport.NewRouter()
	router.Register("whatsapp", out)

	failureMode := opts.failureMode
	if failureMode == "" {
		failureMode = compaction.FailureTruncate
	}
	mode := opts.mode
	if mode == "" {
		mode = compaction.ModeRetain
	}
	compactor, err := compaction.New(compaction.Policy{
		MaxTurns:         testMaxTurns,
		Mode:             mode,
		KeepTurns:        2,
		FailureMode:      failureMode,
		SummaryMaxTokens: testSummaryTokens,
	}, completer, compaction.Options{})
	require.NoError(t, err)

	g := gate.New(gate.Config{
		Cooldown:       opts.cooldown,
		JunkUtterances: []string{"ok", "thanks", "👍"},
	})

	transcriber := opts.transcriber
	if transcriber == nil {
		transcriber = voice.NewMockTranscriber()
	}

	cfg := Config{
		PersonaPrompt:        "You are ReysQ.",
		WelcomeEnabled:       true,
		WelcomeMessage:       "welcome!",
		FallbackReply:        "sorry, try again",
		TranscriptionApology: "could not hear you",
		UnsupportedNotice:    "text or voice only",
		ReplyMaxTokens:       testReplyTokens,
		CollaboratorTimeout:  time.Second,
	}
	if opts.cfg != nil {
		opts.cfg(&cfg)
	}

	proc, err := NewProcessor(cfg, Deps{
		Store:       store,
		Gate:        g,
		Compactor:   compactor,
		Completer:   completer,
		Transcriber: transcriber,
		Synthesizer: opts.synthesizer,
		Router:      router,
		Metrics:     opts.metrics,
	})
	require.NoError(t, err)
	return &harness{proc: proc, store: store, mem: mem, completer: completer, sink: out, gate: g}
}

func text(user, id, body string) transport.Inbound {
	return transport.Inbound{Channel: "whatsapp", UserID: user, MessageID: id, Kind: transport.KindText, Text: body}
}

func (h *harness) load(t *testing.T, user string) memory.Record {
	t.Helper()
	rec, err := h.mem.Load(context.Background(), user)
	require.NoError(t, err)
	return rec
}

func TestHandleFirstTurnWelcomesAndPersists(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	out := h.proc.Handle(context.Background(), text("u1", "m1", "I have a sore throat"))
	assert.Equal(t, StatusDelivered, out.Status)
	assert.True(t, out.Welcome)
	assert.Equal(t, "reply to: I have a sore throat", out.Reply)
	assert.Equal(t, []string{"welcome!", "reply to: I have a sore throat"}, h.sink.texts())

	rec := h.load(t, "u1")
	require.Len(t, rec.RecentTurns, 2)
	assert.Equal(t, memory.RoleUser, rec.RecentTurns[0].Role)
	assert.Equal(t, "I have a sore throat", rec.RecentTurns[0].Content)
	assert.Equal(t, memory.RoleAssistant, rec.RecentTurns[1].Role)
	assert.False(t, rec.LastActivityAt.IsZero())

	out = h.proc.Handle(context.Background(), text("u1", "m2", "it got worse"))
	assert.Equal(t, StatusDelivered, out.Status)
	assert.False(t, out.Welcome, "welcome is emitted once per user")
	assert.Len(t, h.sink.texts(), 3)
}

func TestWelcomeDisabled(t *testing.T) {
	h := newHarness(t, harnessOptions{cfg: func(c *Config) { c.WelcomeEnabled = false }})
	out := h.proc.Handle(context.Background(), text("u1", "m1", "hello there"))
	assert.False(t, out.Welcome)
	assert.Equal(t, []string{"reply to: hello there"}, h.sink.texts())
}

func TestNinthStoredTurnTriggersExactlyOneCompaction(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		out := h.proc.Handle(ctx, text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("symptom update %d", i)))
		require.Equal(t, StatusDelivered, out.Status)
		assert.False(t, out.Compacted)
	}
	require.Len(t, h.load(t, "u1").RecentTurns, testMaxTurns)
	require.Zero(t, h.completer.count(testSummaryTokens))

	out := h.proc.Handle(ctx, text("u1", "m5", "symptom update 5"))
	require.Equal(t, StatusDelivered, out.Status)
	assert.True(t, out.Compacted)
	assert.Equal(t, 1, h.completer.count(testSummaryTokens))

	calls := h.completer.snapshot()
	require.Len(t, calls, 6)
	assert.Equal(t, testSummaryTokens, calls[4].maxTokens, "compaction runs before context assembly")
	assert.Equal(t, testReplyTokens, calls[5].maxTokens)

	rec := h.load(t, "u1")
	assert.Equal(t, "summary #5", rec.Summary)
	assert.Equal(t, 1, rec.Compactions)
	assert.LessOrEqual(t, len(rec.RecentTurns), testMaxTurns)
}

func TestClearModeCompactsOnNinthUserMessage(t *testing.T) {
	h := newHarness(t, harnessOptions{mode: compaction.ModeClear})
	ctx := context.Background()

	var compactedAt []int
	for i := 1; i <= 9; i++ {
		out := h.proc.Handle(ctx, text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("symptom update %d", i)))
		require.Equal(t, StatusDelivered, out.Status)
		if out.Compacted {
			compactedAt = append(compactedAt, i)
		}
		assert.LessOrEqual(t, len(h.load(t, "u1").RecentTurns), testMaxTurns)
	}
	assert.Equal(t, []int{5, 9}, compactedAt)

	rec := h.load(t, "u1")
	assert.Equal(t, 2, rec.Compactions)
	require.Len(t, rec.RecentTurns, 2)
	assert.Equal(t, "symptom update 9", rec.RecentTurns[0].Content)
}

func TestContextOrderAfterCompaction(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		h.proc.Handle(ctx, text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("message %d", i)))
	}

	calls := h.completer.snapshot()
	msgs := calls[len(calls)-1].messages
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, brain.Message{Role: "system", Content: "You are ReysQ."}, msgs[0])
	assert.Equal(t, "system", msgs[1].Role)
	assert.True(t, strings.HasSuffix(msgs[1].Content, "summary #5"))
	for _, m := range msgs[2:] {
		assert.NotEqual(t, "system", m.Role)
	}
	assert.Equal(t, brain.Message{Role: "user", Content: "message 5"}, msgs[len(msgs)-1])
}

func TestWindowStaysBounded(t *testing.T) {
	for _, mode := range []compaction.FailureMode{compaction.FailureTruncate, compaction.FailureReset} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, harnessOptions{failureMode: mode})
			var calls atomic.Int32
			h.completer.summaryFn = func() (string, error) {
				if calls.Add(1)%2 == 0 {
					return "", errors.New("summary service down")
				}
				return "rolling summary", nil
			}
			for i := 0; i < 30; i++ {
				out := h.proc.Handle(context.Background(), text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("day %d", i)))
				require.NotEqual(t, StatusUnavailable, out.Status)
				assert.LessOrEqual(t, len(h.load(t, "u1").RecentTurns), testMaxTurns, "after turn %d", i)
			}
		})
	}
}

func TestCompactionFailureKeepsPriorSummary(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		h.proc.Handle(ctx, text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("message %d", i)))
	}
	require.Equal(t, "summary #5", h.load(t, "u1").Summary)

	h.completer.summaryFn = func() (string, error) { return "", errors.New("timeout") }
	for i := 6; i <= 8; i++ {
		out := h.proc.Handle(ctx, text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("message %d", i)))
		if out.IsDegraded(DegradedCompaction) {
			assert.Equal(t, StatusDegraded, out.Status)
			assert.ErrorIs(t, out.Err, compaction.ErrCompaction)
		}
	}
	rec := h.load(t, "u1")
	assert.Equal(t, "summary #5", rec.Summary)
	assert.LessOrEqual(t, len(rec.RecentTurns), testMaxTurns)
}

func TestCompletionFailureStoresFallback(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completer.replyFn = func([]brain.Message) (string, error) {
		return "", fmt.Errorf("%w: quota exceeded", brain.ErrCompletion)
	}

	out := h.proc.Handle(context.Background(), text("u1", "m1", "my ankle is swollen"))
	assert.Equal(t, StatusDegraded, out.Status)
	assert.True(t, out.IsDegraded(DegradedCompletion))
	assert.Equal(t, "sorry, try again", out.Reply)
	assert.Contains(t, h.sink.texts(), "sorry, try again")

	rec := h.load(t, "u1")
	require.Len(t, rec.RecentTurns, 2)
	assert.Equal(t, memory.RoleAssistant, rec.RecentTurns[1].Role)
	assert.Equal(t, "sorry, try again", rec.RecentTurns[1].Content)
}

func TestEmptyCompletionUsesFallback(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.completer.replyFn = func([]brain.Message) (string, error) { return "   ", nil }
	out := h.proc.Handle(context.Background(), text("u1", "m1", "hello doctor"))
	assert.Equal(t, "sorry, try again", out.Reply)
}

func TestGateRejectionLeavesMemoryUntouched(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	for _, in := range []transport.Inbound{
		text("u1", "m1", "ok"),
		text("u1", "m2", "👍"),
		text("", "m3", "hello"),
		{Channel: "whatsapp", UserID: "u1", Kind: "sticker"},
	} {
		out := h.proc.Handle(ctx, in)
		assert.Equal(t, StatusRejected, out.Status, "%+v", in)
	}
	assert.Zero(t, h.mem.Len())
	assert.Empty(t, h.completer.snapshot())
	assert.Empty(t, h.sink.texts())

	require.Equal(t, StatusDelivered, h.proc.Handle(ctx, text("u1", "m4", "real question")).Status)
	before := h.load(t, "u1")
	callsBefore := len(h.completer.snapshot())

	out := h.proc.Handle(ctx, text("u1", "m4", "real question"))
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, gate.ReasonDuplicate, out.Reason)
	assert.Equal(t, before, h.load(t, "u1"))
	assert.Len(t, h.completer.snapshot(), callsBefore)
}

func TestConcurrentSameUserWithinCooldown(t *testing.T) {
	h := newHarness(t, harnessOptions{cooldown: 30 * time.Second})

	var (
		wg        sync.WaitGroup
		processed atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := h.proc.Handle(context.Background(), text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("question %d", i)))
			if out.Status == StatusRejected {
				rejected.Add(1)
				return
			}
			processed.Add(1)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, processed.Load())
	assert.EqualValues(t, 9, rejected.Load())
	assert.Len(t, h.load(t, "u1").RecentTurns, 2)
}

func TestCooldownSurvivesRestartThroughRecord(t *testing.T) {
	h := newHarness(t, harnessOptions{cooldown: time.Hour})
	require.Equal(t, StatusDelivered, h.proc.Handle(context.Background(), text("u1", "m1", "first question")).Status)

	fresh := gate.New(gate.Config{Cooldown: time.Hour})
	h.proc.gate = fresh
	out := h.proc.Handle(context.Background(), text("u1", "m2", "second question"))
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, gate.ReasonCooldown, out.Reason)
	assert.Len(t, h.load(t, "u1").RecentTurns, 2)
}

func TestConcurrentDuplicateFirstMessageWelcomesOnce(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var (
		wg       sync.WaitGroup
		welcomes atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.proc.Handle(context.Background(), text("new-user", "wamid.first", "hello, I feel dizzy")).Welcome {
				welcomes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, welcomes.Load())
	assert.Equal(t, 1, h.mem.Len())
	assert.Len(t, h.load(t, "new-user").RecentTurns, 2)
	assert.Equal(t, 1, strings.Count(strings.Join(h.sink.texts(), "\n"), "welcome!"))
}

func TestConcurrentDistinctFirstMessagesSerialize(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var (
		wg       sync.WaitGroup
		welcomes atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := h.proc.Handle(context.Background(), text("u1", fmt.Sprintf("m%d", i), fmt.Sprintf("part %d", i)))
			assert.Equal(t, StatusDelivered, out.Status)
			if out.Welcome {
				welcomes.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, welcomes.Load())
	assert.Len(t, h.load(t, "u1").RecentTurns, 6, "no turn lost to interleaving")
}

func TestSaveFailureIsUnavailableAndNotDelivered(t *testing.T) {
	h := newHarness(t, harnessOptions{cooldown: 30 * time.Second, cfg: func(c *Config) { c.WelcomeEnabled = false }})
	h.store.failSave.Store(true)

	in := text("u1", "m1", "chest pain since morning")
	out := h.proc.Handle(context.Background(), in)
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, memory.ErrUnavailable)
	assert.Empty(t, h.sink.texts(), "nothing is delivered for unsaved state")
	assert.Empty(t, h.load(t, "u1").RecentTurns)

	h.store.failSave.Store(false)
	out = h.proc.Handle(context.Background(), in)
	assert.Equal(t, StatusDelivered, out.Status, "redelivery is processed after rollback")
	assert.Len(t, h.load(t, "u1").RecentTurns, 2)
}

func TestStalledStoreTimesOutAsUnavailable(t *testing.T) {
	h := newHarness(t, harnessOptions{
		cooldown: 30 * time.Second,
		cfg: func(c *Config) {
			c.WelcomeEnabled = false
			c.CollaboratorTimeout = 50 * time.Millisecond
		},
	})
	h.store.stall.Store(true)

	handle := func(in transport.Inbound) Outcome {
		t.Helper()
		done := make(chan Outcome, 1)
		go func() { done <- h.proc.Handle(context.Background(), in) }()
		select {
		case out := <-done:
			return out
		case <-time.After(2 * time.Second):
			t.Fatalf("Handle(%s) did not return while the store was stalled", in.MessageID)
			return Outcome{}
		}
	}

	in := text("u1", "m1", "my chest feels tight")
	out := handle(in)
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, memory.ErrUnavailable)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Zero(t, h.proc.locks.ActiveCount(), "user lock is released")
	assert.Zero(t, h.completer.count(testReplyTokens), "no reply without loaded state")

	h.store.stall.Store(false)
	out = handle(in)
	require.Equal(t, StatusDelivered, out.Status, "redelivery is admitted after the stalled turn")
	assert.Len(t, h.load(t, "u1").RecentTurns, 2)

	h.completer.replyFn = func(messages []brain.Message) (string, error) {
		h.store.stall.Store(true)
		return "reply to: " + messages[len(messages)-1].Content, nil
	}
	out = handle(text("u2", "m2", "dizzy when standing"))
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, memory.ErrUnavailable)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, []string{"reply to: my chest feels tight"}, h.sink.texts(), "unsaved reply is not delivered")
	assert.Zero(t, h.proc.locks.ActiveCount())
}

func TestDeliveryFailureKeepsMemory(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.sink.fail.Store(true)

	out := h.proc.Handle(context.Background(), text("u1", "m1", "is this serious?"))
	assert.Equal(t, StatusDelivered, out.Status)
	assert.True(t, out.DeliveryFailed)
	assert.Len(t, h.load(t, "u1").RecentTurns, 2)
}

func TestAudioTurnIsTranscribedAndVoiced(t *testing.T) {
	h := newHarness(t, harnessOptions{
		synthesizer: voice.NewMockSynthesizer(),
		cfg:         func(c *Config) { c.VoiceReplies = true; c.WelcomeEnabled = false },
	})
	h.sink.media["MEDIA1"] = []byte("my head hurts")

	out := h.proc.Handle(context.Background(), transport.Inbound{
		Channel: "whatsapp", UserID: "u1", MessageID: "m1", Kind: transport.KindAudio, MediaID: "MEDIA1",
	})
	require.Equal(t, StatusDelivered, out.Status)

	rec := h.load(t, "u1")
	require.Len(t, rec.RecentTurns, 2)
	assert.Equal(t, "my head hurts", rec.RecentTurns[0].Content)

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	require.Len(t, h.sink.replies, 1)
	require.NotNil(t, h.sink.replies[0].Audio)
	assert.Equal(t, "audio/wav", h.sink.replies[0].Audio.MIMEType)
}

func TestTranscriptionFailureApologizesWithoutMemory(t *testing.T) {
	failing := voice.TranscriberFunc(func(context.Context, []byte, string) (string, error) {
		return "", fmt.Errorf("%w: unreadable", voice.ErrTranscription)
	})
	h := newHarness(t, harnessOptions{transcriber: failing})

	out := h.proc.Handle(context.Background(), transport.Inbound{
		Channel: "whatsapp", UserID: "u1", MessageID: "m1", Kind: transport.KindAudio, Audio: []byte{1, 2, 3},
	})
	assert.Equal(t, StatusDegraded, out.Status)
	assert.True(t, out.IsDegraded(DegradedTranscription))
	assert.ErrorIs(t, out.Err, voice.ErrTranscription)
	assert.Equal(t, []string{"could not hear you"}, h.sink.texts())
	assert.Zero(t, h.mem.Len())
	assert.Empty(t, h.completer.snapshot())
}

func TestMissingMediaIsTranscriptionFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	out := h.proc.Handle(context.Background(), transport.Inbound{
		Channel: "whatsapp", UserID: "u1", MessageID: "m1", Kind: transport.KindAudio, MediaID: "GONE",
	})
	assert.True(t, out.IsDegraded(DegradedTranscription))
	assert.Zero(t, h.mem.Len())
}

func TestJunkTranscriptIsRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	out := h.proc.Handle(context.Background(), transport.Inbound{
		Channel: "whatsapp", UserID: "u1", MessageID: "m1", Kind: transport.KindAudio, Audio: []byte("Thanks!"),
	})
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, gate.ReasonJunk, out.Reason)
	assert.Zero(t, h.mem.Len())
}

func TestUnsupportedKindGetsNotice(t *testing.T) {
	h := newHarness(t, harnessOptions{cooldown: 30 * time.Second})
	out := h.proc.Handle(context.Background(), transport.Inbound{Channel: "whatsapp", UserID: "u1", MessageID: "m1", Kind: transport.KindUnsupported})
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, ReasonUnsupported, out.Reason)
	assert.Equal(t, []string{"text or voice only"}, h.sink.texts())
	assert.Zero(t, h.mem.Len())

	assert.Equal(t, StatusDelivered, h.proc.Handle(context.Background(), text("u1", "m2", "sorry, here it is")).Status,
		"the notice does not start a cooldown")
}

func TestMetricsAreRecorded(t *testing.T) {
	m := observability.NewMetrics("companion_test")
	h := newHarness(t, harnessOptions{metrics: m})
	h.proc.Handle(context.Background(), text("u1", "m1", "hello there"))
	h.proc.Handle(context.Background(), text("u1", "m1", "hello there"))

	snap := m.SnapshotTurnStages()
	assert.NotEmpty(t, snap.Stages)
}

func TestNewProcessorValidatesDeps(t *testing.T) {
	_, err := NewProcessor(Config{FallbackReply: "x"}, Deps{})
	assert.Error(t, err)
}

func TestBuildContextWithoutSummary(t *testing.T) {
	rec := memory.Record{RecentTurns: []memory.Turn{
		{Role: memory.RoleUser, Content: "a"},
		{Role: memory.RoleAssistant, Content: "b"},
	}}
	msgs := BuildContext("persona", rec)
	assert.Equal(t, []brain.Message{
		{Role: "system", Content: "persona"},
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
	}, msgs)
}
