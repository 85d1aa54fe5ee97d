package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/reysq/internal/companion"
	"github.com/ent0n29/reysq/internal/config"
	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/observability"
	"github.com/ent0n29/reysq/internal/session"
	"github.com/ent0n29/reysq/internal/transport"
	"github.com/ent0n29/reysq/internal/whatsapp"
)

const textPayload = `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[
  {"from":"15550001","id":"wamid.1","timestamp":"1700000000","type":"text","text":{"body":"my back hurts"}},
  {"from":"15550002","id":"wamid.2","timestamp":"1700000001","type":"text","text":{"body":"I slept badly"}}
]}}]}]}`

type stubProcessor struct {
	mu     sync.Mutex
	seen   []transport.Inbound
	status map[string]companion.Status
}

func (p *stubProcessor) Handle(_ context.Context, in transport.Inbound) companion.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, in)
	if st, ok := p.status[in.MessageID]; ok {
		return companion.Outcome{Status: st}
	}
	return companion.Outcome{Status: companion.StatusDelivered}
}

func newTestServer(t *testing.T, cfg config.Config, proc *stubProcessor, store memory.Store) *httptest.Server {
	t.Helper()
	if store == nil {
		store = memory.NewInMemoryStore()
	}
	srv := New(cfg, Deps{
		Processor: proc,
		Store:     store,
		Locks:     session.NewManager(),
		Channels:  []string{whatsapp.Channel},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestWebhookVerification(t *testing.T) {
	ts := newTestServer(t, config.Config{MetaVerifyToken: "verify-me"}, &stubProcessor{}, nil)

	res, err := http.Get(ts.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=4242")
	if err != nil {
		t.Fatalf("GET /webhook error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if string(body) != "4242" {
		t.Fatalf("body = %q, want challenge", body)
	}

	res, err = http.Get(ts.URL + "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=4242")
	if err != nil {
		t.Fatalf("GET /webhook error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestWebhookProcessesEveryMessage(t *testing.T) {
	proc := &stubProcessor{}
	ts := newTestServer(t, config.Config{}, proc, nil)

	res, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(textPayload))
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var resp webhookResponse
	decodeBody(t, res, &resp)
	if len(resp.Turns) != 2 {
		t.Fatalf("turns = %+v, want 2", resp.Turns)
	}
	if resp.Turns[0].MessageID != "wamid.1" || resp.Turns[0].Status != "delivered" {
		t.Fatalf("first turn = %+v", resp.Turns[0])
	}
	if len(proc.seen) != 2 || proc.seen[1].Text != "I slept badly" {
		t.Fatalf("processor saw %+v", proc.seen)
	}
}

func TestWebhookUnavailableAsksForRedelivery(t *testing.T) {
	proc := &stubProcessor{status: map[string]companion.Status{"wamid.2": companion.StatusUnavailable}}
	ts := newTestServer(t, config.Config{}, proc, nil)

	res, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(textPayload))
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusServiceUnavailable)
	}
}

func TestWebhookRejectsBadPayloadAndSignature(t *testing.T) {
	proc := &stubProcessor{}
	ts := newTestServer(t, config.Config{MetaAppSecret: "app-secret"}, proc, nil)

	res, err := http.Post(ts.URL+"/webhook", "application/json", strings.NewReader(textPayload))
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	bad := `{broken`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhook", strings.NewReader(bad))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign("app-secret", []byte(bad)))
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/webhook", strings.NewReader(textPayload))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign("app-secret", []byte(textPayload)))
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signed status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(proc.seen) != 2 {
		t.Fatalf("processor saw %d turns, want 2", len(proc.seen))
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, config.Config{SQLitePath: "/tmp/x.db"}, &stubProcessor{}, nil)

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	var health map[string]any
	decodeBody(t, res, &health)
	if health["status"] != "ok" || health["store_mode"] != "sqlite" {
		t.Fatalf("health = %+v", health)
	}

	res, err = http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	var ready map[string]any
	decodeBody(t, res, &ready)
	if res.StatusCode != http.StatusOK || ready["status"] != "ready" {
		t.Fatalf("ready = %d %+v", res.StatusCode, ready)
	}
}

func TestPerfLatency(t *testing.T) {
	metrics := observability.NewMetrics("test_httpapi_perf")
	metrics.ObserveTurnStage("complete", 120*time.Millisecond)
	srv := New(config.Config{}, Deps{Processor: &stubProcessor{}, Store: memory.NewInMemoryStore(), Metrics: metrics})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	var snap observability.TurnStageSnapshot
	decodeBody(t, res, &snap)
	if len(snap.Stages) != 1 || snap.Stages[0].Stage != "complete" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestConversationRequiresAdminToken(t *testing.T) {
	store := memory.NewInMemoryStore()
	if _, _, err := store.Create(context.Background(), "15550001"); err != nil {
		t.Fatalf("create record: %v", err)
	}
	ts := newTestServer(t, config.Config{AdminJWTSecret: "admin-secret"}, &stubProcessor{}, store)

	res, err := http.Get(ts.URL + "/v1/conversations/15550001")
	if err != nil {
		t.Fatalf("GET conversation error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	get := func(path, token string) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		return res
	}

	forged, err := NewAdminAuth([]byte("other")).Generate("ops", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	res = get("/v1/conversations/15550001", forged)
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}

	token, err := NewAdminAuth([]byte("admin-secret")).Generate("ops", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	res = get("/v1/conversations/15550001", token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var rec memory.Record
	decodeBody(t, res, &rec)
	if rec.UserID != "15550001" {
		t.Fatalf("record = %+v", rec)
	}

	res = get("/v1/conversations/nobody", token)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestConversationDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, config.Config{}, &stubProcessor{}, nil)
	res, err := http.Get(ts.URL + "/v1/conversations/anyone")
	if err != nil {
		t.Fatalf("GET conversation error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestAdminAuthRejectsExpiredToken(t *testing.T) {
	auth := NewAdminAuth([]byte("s"))
	token, err := auth.Generate("ops", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := auth.Verify(token); err != ErrExpiredToken {
		t.Fatalf("Verify() error = %v, want %v", err, ErrExpiredToken)
	}
}
