package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/reysq/internal/companion"
	"github.com/ent0n29/reysq/internal/config"
	"github.com/ent0n29/reysq/internal/memory"
	"github.com/ent0n29/reysq/internal/observability"
	"github.com/ent0n29/reysq/internal/session"
	"github.com/ent0n29/reysq/internal/transport"
)

// TurnHandler processes one normalized inbound turn.
type TurnHandler interface {
	Handle(ctx context.Context, in transport.Inbound) companion.Outcome
}

// Deps are the collaborators the HTTP surface reads from. Locks and Metrics
// may be nil.
type Deps struct {
	Processor TurnHandler
	Store     memory.Store
	Locks     *session.Manager
	Channels  []string
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type Server struct {
	cfg       config.Config
	processor TurnHandler
	store     memory.Store
	locks     *session.Manager
	channels  []string
	metrics   *observability.Metrics
	admin     *AdminAuth
	logger    *slog.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var admin *AdminAuth
	if strings.TrimSpace(cfg.AdminJWTSecret) != "" {
		admin = NewAdminAuth([]byte(cfg.AdminJWTSecret))
	}
	return &Server{
		cfg:       cfg,
		processor: deps.Processor,
		store:     deps.Store,
		locks:     deps.Locks,
		channels:  deps.Channels,
		metrics:   deps.Metrics,
		admin:     admin,
		logger:    logger.With("component", "httpapi"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/webhook", s.handleVerifyWebhook)
	r.Post("/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/v1/conversations/{userID}", s.handleGetConversation)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.cfg.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.processor == nil || s.store == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	active := 0
	if s.locks != nil {
		active = s.locks.ActiveCount()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"store_mode":       s.cfg.StoreMode(),
		"channels":         s.channels,
		"whatsapp_enabled": s.cfg.WhatsAppEnabled(),
		"active_turns":     active,
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	rec, err := s.store.Load(r.Context(), userID)
	switch {
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", "no conversation for user")
		return
	case err != nil:
		s.logger.Error("load conversation failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "memory store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
