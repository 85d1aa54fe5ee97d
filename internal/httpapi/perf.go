package httpapi

import (
	"net/http"
	"time"

	"github.com/ent0n29/reysq/internal/observability"
)

// handlePerfLatency reports rolling per-stage turn latency. Without metrics
// the snapshot is empty rather than an error.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	snap := observability.TurnStageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []observability.TurnStageStats{}}
	if s.metrics != nil {
		snap = s.metrics.SnapshotTurnStages()
	}
	respondJSON(w, http.StatusOK, snap)
}
