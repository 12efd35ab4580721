package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("POST", "/todos", 201, 10*time.Millisecond)
	m.ObserveRequest("POST", "/todos", 400, time.Millisecond)
	m.ObserveRequest("POST", "/todos", 422, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/todos", "2xx")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/todos", "4xx")), 0)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/todos", 200, time.Millisecond)
		m.IncInFlight()
		m.DecInFlight()
	})
}
