// Package metrics exposes Prometheus counters for lifecycle outcomes and
// deferred event dispatch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Lifecycle metrics
	Outcomes       *prometheus.CounterVec
	EventsEnqueued *prometheus.CounterVec

	// Dispatch metrics
	EventsDispatched *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec
	Drains           prometheus.Counter
}

// New creates Metrics registered on a private registry, so several instances
// can coexist in tests.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addonsync_lifecycle_outcomes_total",
			Help: "Lifecycle outcomes applied to package records",
		}, []string{"kind", "verb", "outcome"}),
		EventsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addonsync_events_enqueued_total",
			Help: "Deferred events written to the queue",
		}, []string{"event_kind"}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addonsync_events_dispatched_total",
			Help: "Deferred events dispatched to listeners",
		}, []string{"event_kind"}),
		ListenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "addonsync_listener_failures_total",
			Help: "Listener invocations that returned an error or panicked",
		}, []string{"listener"}),
		Drains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "addonsync_queue_drains_total",
			Help: "Completed drain, dispatch and clear cycles",
		}),
	}

	reg.MustRegister(
		m.Outcomes,
		m.EventsEnqueued,
		m.EventsDispatched,
		m.ListenerFailures,
		m.Drains,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOutcome counts one applied lifecycle outcome.
func (m *Metrics) ObserveOutcome(kind, verb string, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	m.Outcomes.WithLabelValues(kind, verb, outcome).Inc()
}

// ObserveEnqueued counts one queued event.
func (m *Metrics) ObserveEnqueued(eventKind string) {
	if m == nil {
		return
	}
	m.EventsEnqueued.WithLabelValues(eventKind).Inc()
}

// ObserveDispatched counts one dispatched event.
func (m *Metrics) ObserveDispatched(eventKind string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(eventKind).Inc()
}

// ObserveListenerFailure counts one failed listener invocation.
func (m *Metrics) ObserveListenerFailure(listener string) {
	if m == nil {
		return
	}
	m.ListenerFailures.WithLabelValues(listener).Inc()
}

// ObserveDrain counts one completed drain cycle.
func (m *Metrics) ObserveDrain() {
	if m == nil {
		return
	}
	m.Drains.Inc()
}
