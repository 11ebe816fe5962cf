// Package metrics defines the Prometheus collectors of the index server.
// A nil *Metrics is valid and records nothing, so components can take
// one optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	RPCRequestsTotal    *prometheus.CounterVec
	RPCDuration         *prometheus.HistogramVec
	RebuildsTotal       *prometheus.CounterVec
	RebuildDuration     *prometheus.HistogramVec
	DocsIndexedTotal    *prometheus.CounterVec
	SearchesTotal       *prometheus.CounterVec
	SearchLatency       *prometheus.HistogramVec
	StaleReferences     *prometheus.CounterVec
	CompositeReopens    prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	IngestEventsTotal   *prometheus.CounterVec
	IndexDocCount       *prometheus.GaugeVec
	RemoteFallbacks     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RPCRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_rpc_requests_total",
				Help: "Index server RPC calls by method and status.",
			},
			[]string{"method", "status"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferret_rpc_duration_seconds",
				Help:    "Index server RPC latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5, 30},
			},
			[]string{"method"},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_rebuilds_total",
				Help: "Index rebuilds by index and status.",
			},
			[]string{"index", "status"},
		),
		RebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferret_rebuild_duration_seconds",
				Help:    "Index rebuild duration in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"index"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_docs_indexed_total",
				Help: "Documents written to an index.",
			},
			[]string{"index"},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_searches_total",
				Help: "Searches by kind (single, multi) and status.",
			},
			[]string{"kind", "status"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ferret_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind"},
		),
		StaleReferences: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_stale_references_total",
				Help: "Indexed ids without a data store record.",
			},
			[]string{"model"},
		),
		CompositeReopens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ferret_composite_reopens_total",
				Help: "Multi-index composite readers reopened after a member changed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ferret_cache_hits_total",
				Help: "Result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ferret_cache_misses_total",
				Help: "Result cache misses.",
			},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_ingest_events_total",
				Help: "Change events consumed by action and status.",
			},
			[]string{"action", "status"},
		),
		IndexDocCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ferret_index_documents",
				Help: "Documents in the active version of an index.",
			},
			[]string{"index"},
		),
		RemoteFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ferret_remote_fallbacks_total",
				Help: "Remote calls answered with a default value after a connection error.",
			},
			[]string{"method"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ferret_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	m.registry.MustRegister(
		m.RPCRequestsTotal,
		m.RPCDuration,
		m.RebuildsTotal,
		m.RebuildDuration,
		m.DocsIndexedTotal,
		m.SearchesTotal,
		m.SearchLatency,
		m.StaleReferences,
		m.CompositeReopens,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IngestEventsTotal,
		m.IndexDocCount,
		m.RemoteFallbacks,
		m.CircuitBreakerState,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRPC records one server RPC call.
func (m *Metrics) ObserveRPC(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RPCRequestsTotal.WithLabelValues(method, status(err)).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveRebuild records one rebuild attempt.
func (m *Metrics) ObserveRebuild(index string, d time.Duration, docs int, err error) {
	if m == nil {
		return
	}
	m.RebuildsTotal.WithLabelValues(index, status(err)).Inc()
	if err == nil {
		m.RebuildDuration.WithLabelValues(index).Observe(d.Seconds())
		m.IndexDocCount.WithLabelValues(index).Set(float64(docs))
	}
}

// AddDocs counts documents written to index.
func (m *Metrics) AddDocs(index string, n int) {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.WithLabelValues(index).Add(float64(n))
}

// ObserveSearch records one search of the given kind.
func (m *Metrics) ObserveSearch(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(kind, status(err)).Inc()
	m.SearchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// StaleReference counts an indexed id missing from the data store.
func (m *Metrics) StaleReference(model string) {
	if m == nil {
		return
	}
	m.StaleReferences.WithLabelValues(model).Inc()
}

// CompositeReopened counts a multi-index reader reopen.
func (m *Metrics) CompositeReopened() {
	if m == nil {
		return
	}
	m.CompositeReopens.Inc()
}

// CacheResult counts a result cache lookup.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// IngestEvent counts a consumed change event.
func (m *Metrics) IngestEvent(action string, err error) {
	if m == nil {
		return
	}
	m.IngestEventsTotal.WithLabelValues(action, status(err)).Inc()
}

// RemoteFallback counts a remote call answered with its default value.
func (m *Metrics) RemoteFallback(method string) {
	if m == nil {
		return
	}
	m.RemoteFallbacks.WithLabelValues(method).Inc()
}

// SetCircuitState publishes a circuit breaker state.
func (m *Metrics) SetCircuitState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
