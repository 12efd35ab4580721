package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var storeBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for the todo write and read paths.
// Tracks lifecycle counts, degraded event delivery, and store call durations.
type Metrics struct {
	TodosCreated    prometheus.Counter
	TodosDeleted    prometheus.Counter
	CreateReplayed  prometheus.Counter
	PublishDegraded *prometheus.CounterVec
	CreateDuration  prometheus.Histogram
	ListDuration    prometheus.Histogram
	DeleteDuration  prometheus.Histogram
}

// New creates a new Metrics instance registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TodosCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "todoflow_todos_created_total",
			Help: "Total number of todos created",
		}),
		TodosDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "todoflow_todos_deleted_total",
			Help: "Total number of todos deleted",
		}),
		CreateReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "todoflow_create_replayed_total",
			Help: "Create requests answered from a stored Idempotency-Key result",
		}),
		PublishDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "todoflow_publish_degraded_total",
			Help: "Committed mutations whose event could not be published, by detail type",
		}, []string{"detail_type"}),
		CreateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoflow_create_duration_seconds",
			Help:    "Duration of Create operations (store write and publish)",
			Buckets: storeBuckets,
		}),
		ListDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoflow_list_duration_seconds",
			Help:    "Duration of List operations (all pages)",
			Buckets: storeBuckets,
		}),
		DeleteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoflow_delete_duration_seconds",
			Help:    "Duration of Delete operations (store delete and publish)",
			Buckets: storeBuckets,
		}),
	}
}

// IncrementTodosCreated records a successful create.
func (m *Metrics) IncrementTodosCreated() {
	if m != nil {
		m.TodosCreated.Inc()
	}
}

// IncrementTodosDeleted records a successful delete.
func (m *Metrics) IncrementTodosDeleted() {
	if m != nil {
		m.TodosDeleted.Inc()
	}
}

// IncrementCreateReplayed records a create served from the idempotency store.
func (m *Metrics) IncrementCreateReplayed() {
	if m != nil {
		m.CreateReplayed.Inc()
	}
}

// IncrementPublishDegraded records a mutation that committed without its event.
func (m *Metrics) IncrementPublishDegraded(detailType string) {
	if m != nil {
		m.PublishDegraded.WithLabelValues(detailType).Inc()
	}
}

// ObserveCreate records the duration of a Create operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCreate(start time.Time) {
	if m != nil {
		m.CreateDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveList records the duration of a List operation.
func (m *Metrics) ObserveList(start time.Time) {
	if m != nil {
		m.ListDuration.Observe(time.Since(start).Seconds())
	}
}

// ObserveDelete records the duration of a Delete operation.
func (m *Metrics) ObserveDelete(start time.Time) {
	if m != nil {
		m.DeleteDuration.Observe(time.Since(start).Seconds())
	}
}
