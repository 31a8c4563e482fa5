// Package telemetry counts idempotency events and exports them to Prometheus and CloudWatch.
package telemetry

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imrishuroy/lambda-idempotency/internal/idempotency"
)

// Events lists every event the coordinator reports, in export order.
var Events = []idempotency.Event{
	idempotency.EventExecuted,
	idempotency.EventReplayed,
	idempotency.EventCacheHit,
	idempotency.EventSkipped,
	idempotency.EventAlreadyInProgress,
	idempotency.EventInconsistentState,
	idempotency.EventValidationMismatch,
	idempotency.EventDeleted,
	idempotency.EventDeleteFailed,
}

// Metrics is an idempotency.Observer backed by atomic counters.
type Metrics struct {
	counts   map[idempotency.Event]*atomic.Int64
	events   *prometheus.CounterVec
	registry *prometheus.Registry
}

// NewMetrics builds the counters and registers them on a private registry.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		counts: make(map[idempotency.Event]*atomic.Int64, len(Events)),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_events_total",
			Help:      "Idempotency coordinator events by type",
		}, []string{"event"}),
		registry: prometheus.NewRegistry(),
	}
	for _, e := range Events {
		m.counts[e] = new(atomic.Int64)
		// pre-create the series so every event is exported at zero
		m.events.WithLabelValues(string(e))
	}
	m.registry.MustRegister(m.events)
	return m
}

// Observe implements idempotency.Observer. Unknown events are ignored.
func (m *Metrics) Observe(e idempotency.Event) {
	c, ok := m.counts[e]
	if !ok {
		return
	}
	c.Add(1)
	m.events.WithLabelValues(string(e)).Inc()
}

// Count returns the number of times e was observed.
func (m *Metrics) Count(e idempotency.Event) int64 {
	if c, ok := m.counts[e]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot returns the current value of every counter.
func (m *Metrics) Snapshot() map[idempotency.Event]int64 {
	out := make(map[idempotency.Event]int64, len(m.counts))
	for e, c := range m.counts {
		out[e] = c.Load()
	}
	return out
}

// Handler exposes the counters in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ idempotency.Observer = (*Metrics)(nil)
