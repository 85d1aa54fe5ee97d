package httpapi

import (
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/reysq/internal/companion"
	"github.com/ent0n29/reysq/internal/policy"
	"github.com/ent0n29/reysq/internal/whatsapp"
)

const maxWebhookBody = 1 << 20

type turnResult struct {
	MessageID string `json:"message_id,omitempty"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type webhookResponse struct {
	Turns []turnResult `json:"turns"`
}

func (s *Server) handleVerifyWebhook(w http.ResponseWriter, r *http.Request) {
	challenge, ok := whatsapp.VerifyChallenge(r.URL.Query(), s.cfg.MetaVerifyToken)
	if !ok {
		s.logger.Warn("webhook verification rejected", "mode", r.URL.Query().Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleWebhook processes every message of a WhatsApp delivery before
// answering. A 503 asks Meta to redeliver; turns that already completed are
// then rejected as duplicates.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read body")
		return
	}
	if secret := strings.TrimSpace(s.cfg.MetaAppSecret); secret != "" {
		if !whatsapp.VerifySignature(secret, body, r.Header.Get(whatsapp.SignatureHeader)) {
			s.logger.Warn("webhook signature mismatch", "remote", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature mismatch")
			return
		}
	}

	turns, err := whatsapp.ParseWebhook(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	resp := webhookResponse{Turns: make([]turnResult, 0, len(turns))}
	status := http.StatusOK
	for _, in := range turns {
		out := s.processor.Handle(r.Context(), in)
		if out.Status == companion.StatusUnavailable {
			status = http.StatusServiceUnavailable
		}
		resp.Turns = append(resp.Turns, turnResult{
			MessageID: in.MessageID,
			Status:    string(out.Status),
			Reason:    string(out.Reason),
		})
	}
	if len(turns) > 0 {
		s.logger.Debug("webhook processed",
			"turns", len(turns),
			"first_user", policy.MaskUserID(turns[0].UserID),
			"http_status", status,
		)
	}
	respondJSON(w, status, resp)
}
