package telemetry

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricRequests       = "requests_total"
	MetricShortTrips     = "short_trips_total"
	MetricCacheHits      = "cache_hits_total"
	MetricCacheMisses    = "cache_misses_total"
	MetricCacheExpired   = "cache_expired_total"
	MetricResolved       = "resolved_total"
	MetricCanceled       = "canceled_total"
	MetricFallbacks      = "fallbacks_total"
	MetricRebuilds       = "rebuilds_total"
	MetricTickOverruns   = "tick_overruns_total"
	MetricEventsDropped  = "events_dropped_total"
	MetricQueueDepth     = "queue_depth"
	MetricCacheEntries   = "cache_entries"
	MetricClients        = "clients"
	MetricRouteSeconds   = "route_seconds"
	MetricRebuildSeconds = "rebuild_seconds"
	MetricTickSeconds    = "tick_seconds"

	// MetricRoutePrefix prefixes per-strategy route counters, for example
	// "route.hierarchical".
	MetricRoutePrefix = "route."
)

var counterHelp = map[string]string{
	MetricRequests:     "Path requests received.",
	MetricShortTrips:   "Requests answered synchronously by the direct walker.",
	MetricCacheHits:    "Requests answered from the path cache.",
	MetricCacheMisses:  "Path cache lookups that missed.",
	MetricCacheExpired: "Path cache entries dropped for age.",
	MetricResolved:     "Queued requests resolved by the tick loop.",
	MetricCanceled:     "Queued requests withdrawn before resolution.",
	MetricFallbacks:    "Searches replaced by the direct walker.",
	MetricRebuilds:     "Grid and zone rebuilds.",
	MetricTickOverruns:  "Ticks that exceeded the tick budget.",
	MetricEventsDropped: "Structured events shed because the event queue was full.",
}

var gaugeHelp = map[string]string{
	MetricQueueDepth:   "Pending path requests.",
	MetricCacheEntries: "Entries held by the path cache.",
	MetricClients:      "Connected websocket clients.",
}

var histogramHelp = map[string]string{
	MetricRouteSeconds:   "Time spent routing one request.",
	MetricRebuildSeconds: "Time spent rebuilding grids and zones.",
	MetricTickSeconds:    "Time spent in one engine update.",
}

// PrometheusMetrics records navigation metrics on its own registry.
type PrometheusMetrics struct {
	registry   *prometheus.Registry
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
	routes     *prometheus.CounterVec
}

// NewPrometheusMetrics registers every navigation metric under namespace on a
// fresh registry.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	m := &PrometheusMetrics{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter, len(counterHelp)),
		gauges:     make(map[string]prometheus.Gauge, len(gaugeHelp)),
		histograms: make(map[string]prometheus.Histogram, len(histogramHelp)),
	}
	for name, help := range counterHelp {
		m.counters[name] = factory.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	for name, help := range gaugeHelp {
		m.gauges[name] = factory.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	for name, help := range histogramHelp {
		m.histograms[name] = factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		})
	}
	m.routes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routes_total",
		Help:      "Routes produced, by strategy.",
	}, []string{"strategy"})
	return m
}

func (m *PrometheusMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	if strategy, ok := strings.CutPrefix(key, MetricRoutePrefix); ok {
		m.routes.WithLabelValues(strategy).Add(float64(delta))
		return
	}
	if c, ok := m.counters[key]; ok {
		c.Add(float64(delta))
	}
}

func (m *PrometheusMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	if g, ok := m.gauges[key]; ok {
		g.Set(float64(value))
	}
}

func (m *PrometheusMetrics) Observe(key string, seconds float64) {
	if m == nil {
		return
	}
	if h, ok := m.histograms[key]; ok {
		h.Observe(seconds)
	}
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
