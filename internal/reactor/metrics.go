package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reactor outcomes.
const (
	OutcomeApplied    = "applied"
	OutcomeNoop       = "noop"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
	OutcomeUnroutable = "unroutable"
)

type Metrics struct {
	Outcomes *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_reactor_outcomes_total",
			Help: "Reactor results by detail type and outcome",
		}, []string{"detail_type", "outcome"}),
	}
}

func (m *Metrics) IncOutcome(detailType, outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(detailType, outcome).Inc()
	}
}
