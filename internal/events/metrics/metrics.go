package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded by consumers.
const (
	OutcomeAcked        = "acked"
	OutcomeRetried      = "retried"
	OutcomeUnroutable   = "unroutable"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeDropped      = "dropped"
)

// Metrics covers both sides of the event channel.
type Metrics struct {
	Published     *prometheus.CounterVec
	PublishFailed *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_events_published_total",
			Help: "Events accepted by the transport, by transport and detail type",
		}, []string{"transport", "detail_type"}),
		PublishFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_events_publish_failed_total",
			Help: "Events the transport refused, by transport and detail type",
		}, []string{"transport", "detail_type"}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_events_deliveries_total",
			Help: "Consumer delivery outcomes, by transport and outcome",
		}, []string{"transport", "outcome"}),
	}
}

func (m *Metrics) IncPublished(transport, detailType string) {
	if m != nil {
		m.Published.WithLabelValues(transport, detailType).Inc()
	}
}

func (m *Metrics) IncPublishFailed(transport, detailType string) {
	if m != nil {
		m.PublishFailed.WithLabelValues(transport, detailType).Inc()
	}
}

func (m *Metrics) IncDelivery(transport, outcome string) {
	if m != nil {
		m.Deliveries.WithLabelValues(transport, outcome).Inc()
	}
}
