package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Turns              *prometheus.CounterVec
	GateRejections     *prometheus.CounterVec
	Compactions        *prometheus.CounterVec
	CollaboratorErrors *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	Welcomes           prometheus.Counter
	TurnLatency        prometheus.Histogram

	stages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed inbound turns by outcome status.",
		}, []string{"status"}),
		GateRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Turns rejected by the delivery gate by reason.",
		}, []string{"reason"}),
		Compactions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Memory compactions by result.",
		}, []string{"result"}),
		CollaboratorErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "External collaborator failures by collaborator.",
		}, []string{"collaborator"}),
		Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by channel and result.",
		}, []string{"channel", "result"}),
		Welcomes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "welcomes_total",
			Help:      "Welcome messages emitted to first-time users.",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn processing latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		stages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveTurn(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(status).Inc()
	m.TurnLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("turn_total", float64(d.Microseconds())/1000)
}

func (m *Metrics) ObserveGateRejection(reason string) {
	if m == nil {
		return
	}
	m.GateRejections.WithLabelValues(reason).Inc()
	m.stages.ObserveIndicator("gate_" + reason)
}

func (m *Metrics) ObserveCompaction(result string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(result).Inc()
	m.stages.ObserveIndicator("compaction_" + result)
}

func (m *Metrics) ObserveCollaboratorError(collaborator string) {
	if m == nil {
		return
	}
	m.CollaboratorErrors.WithLabelValues(collaborator).Inc()
}

func (m *Metrics) ObserveDelivery(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ObserveWelcome() {
	if m == nil {
		return
	}
	m.Welcomes.Inc()
}

// ObserveTurnStage records the latency of one pipeline stage.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) SnapshotTurnStages() TurnStageSnapshot {
	if m == nil {
		return TurnStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
