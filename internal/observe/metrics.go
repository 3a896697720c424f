// Package observe wires metrics and tracing: a Prometheus registry with the
// counters the operator actually looks at, and an optional OTLP trace
// exporter enabled by configuration.
package observe

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sibylhq/sibyl/internal/breaker"
	"github.com/sibylhq/sibyl/internal/source"
)

const namespace = "sibyl"

// Metrics holds every collector on one private registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	streamChunks  prometheus.Counter
	sourceFetches *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	cacheEntries  prometheus.Gauge
}

// NewMetrics creates the collector set on a fresh registry, including the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries handled, by transport mode and outcome.",
		}, []string{"mode", "status"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		streamChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Answer fragments delivered to clients.",
		}),

		sourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source fan-out branches, by source and outcome.",
		}, []string{"source", "status"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker position per source: 0 closed, 1 open, 2 half-open.",
		}, []string{"source"}),

		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries in the vector cache at the last sweep.",
		}),
	}

	m.registry.MustRegister(
		m.queries, m.queryDuration, m.streamChunks,
		m.sourceFetches, m.breakerState, m.cacheEntries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordQuery counts one finished query. status is "ok" or the wire error
// kind.
func (m *Metrics) RecordQuery(mode, status string, elapsed time.Duration) {
	m.queries.WithLabelValues(mode, status).Inc()
	m.queryDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordChunk counts one delivered answer fragment.
func (m *Metrics) RecordChunk() { m.streamChunks.Inc() }

// RecordFetch counts one fan-out branch outcome. Shaped to hang directly
// off the orchestrator's OnResult hook.
func (m *Metrics) RecordFetch(id source.ID, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sourceFetches.WithLabelValues(string(id), status).Inc()
}

// BreakerHook returns a state-change callback for breaker.NewSet.
func (m *Metrics) BreakerHook() func(id source.ID, from, to breaker.State) {
	return func(id source.ID, _, to breaker.State) {
		m.breakerState.WithLabelValues(string(id)).Set(float64(to))
	}
}

// SetCacheEntries records the cache size observed by the sweep job.
func (m *Metrics) SetCacheEntries(n int) { m.cacheEntries.Set(float64(n)) }
