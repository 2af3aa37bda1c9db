// Package metrics exposes Prometheus counters for the fetch coordinator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all coordinator metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Stores *prometheus.CounterVec

	// Network metrics
	FetchesStarted   prometheus.Counter
	FetchesJoined    prometheus.Counter
	FetchesFailed    prometheus.Counter
	FetchesCancelled prometheus.Counter
	FetchLatency     prometheus.Histogram
	InFlight         prometheus.Gauge
}

// New creates metrics on a private registry with the given namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier",
		}, []string{"tier"}),
		Misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by tier",
		}, []string{"tier"}),
		Stores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stores_total",
			Help:      "Explicit and write-through stores by tier",
		}, []string{"tier"}),
		FetchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_started_total",
			Help:      "Network fetches started",
		}),
		FetchesJoined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_joined_total",
			Help:      "Requests that joined an already running fetch",
		}),
		FetchesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_failed_total",
			Help:      "Network fetches that ended without data",
		}),
		FetchesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_cancelled_total",
			Help:      "Network fetches cancelled through a token",
		}),
		FetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_latency_seconds",
			Help:      "Network fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Network fetches currently running",
		}),
	}
}

// Hit records a cache hit on tier.
func (m *Metrics) Hit(tier string) {
	if m == nil {
		return
	}
	m.Hits.WithLabelValues(tier).Inc()
}

// Miss records a cache miss on tier.
func (m *Metrics) Miss(tier string) {
	if m == nil {
		return
	}
	m.Misses.WithLabelValues(tier).Inc()
}

// Stored records a write into tier.
func (m *Metrics) Stored(tier string) {
	if m == nil {
		return
	}
	m.Stores.WithLabelValues(tier).Inc()
}

// Started records a new network fetch.
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.FetchesStarted.Inc()
	m.InFlight.Inc()
}

// Joined records a request attached to a running fetch.
func (m *Metrics) Joined() {
	if m == nil {
		return
	}
	m.FetchesJoined.Inc()
}

// Finished records the end of a network fetch.
func (m *Metrics) Finished(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.FetchLatency.Observe(seconds)
	if failed {
		m.FetchesFailed.Inc()
	}
}

// Cancelled records a token cancellation.
func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.FetchesCancelled.Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
