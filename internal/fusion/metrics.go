package fusion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
)

// Metrics holds the Prometheus collectors for session verification.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsTotal *prometheus.CounterVec

	// Branch metrics
	BranchDuration *prometheus.HistogramVec
	SignalFailures *prometheus.CounterVec

	// Decision metrics
	DecisionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liveverify_sessions_total",
				Help: "Live verification sessions by final outcome",
			},
			[]string{"outcome", "reason"}, // reason is empty for PASS
		),

		BranchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "liveverify_branch_duration_seconds",
				Help:    "Time spent waiting on each analysis pipeline",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 15},
			},
			[]string{"modality", "status"},
		),

		SignalFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liveverify_signal_failures_total",
				Help: "Signals that could not be trusted, by error kind",
			},
			[]string{"modality", "kind"},
		),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liveverify_decisions_total",
				Help: "Single-modality policy decisions",
			},
			[]string{"modality", "classification", "risk"},
		),
	}
}

func (m *Metrics) observeBranch(sig core.ModalitySignal, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BranchDuration.WithLabelValues(string(sig.Modality), string(sig.Status)).Observe(elapsed.Seconds())
	if sig.Error != nil {
		m.SignalFailures.WithLabelValues(string(sig.Modality), sig.Error.Kind).Inc()
	}
}

// ObserveDecision counts one single-modality verdict.
func (m *Metrics) ObserveDecision(v decision.Verdict) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(string(v.Modality), string(v.Classification), v.RiskLevel.String()).Inc()
}

func (m *Metrics) observeSession(sv *SessionVerdict) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(string(sv.Outcome), string(sv.FailureReason)).Inc()
}
