package emitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAccepted  = "accepted"
	resultDropped   = "dropped"
	resultDelivered = "delivered"
	resultFailed    = "failed"
)

// Metrics counts emitter outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Events *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Events: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "liveverify_emitter_events_total",
				Help: "Verdict events by emitter result (accepted, dropped, delivered, failed)",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(result).Inc()
}
