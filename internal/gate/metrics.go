package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected *prometheus.CounterVec
	Accepted *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_gate_rejected_total",
			Help: "Requests refused by the authorization gate, by reason",
		}, []string{"reason"}),
		Accepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_gate_accepted_total",
			Help: "Requests admitted by the authorization gate, by scheme",
		}, []string{"scheme"}),
	}
}

func (m *Metrics) IncRejected(reason string) {
	if m != nil {
		m.Rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncAccepted(scheme string) {
	if m != nil {
		m.Accepted.WithLabelValues(scheme).Inc()
	}
}
