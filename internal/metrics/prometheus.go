package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors of the gateway and the
// engine host.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	invocationsTotal   *prometheus.CounterVec
	failuresTotal      *prometheus.CounterVec
	cacheResultsTotal  *prometheus.CounterVec
	cacheTierTotal     *prometheus.CounterVec
	engineRequestTotal *prometheus.CounterVec

	// Histograms
	invocationDuration *prometheus.HistogramVec
	rowsReturned       *prometheus.HistogramVec
	transportLatency   *prometheus.HistogramVec

	// Gauges
	activeInvocations prometheus.Gauge
	poolConnections   *prometheus.GaugeVec
}

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var rowBuckets = []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of operation invocations",
			},
			[]string{"operation", "format", "status"},
		),

		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_errors_total",
				Help:      "Invocation errors by kind, including release failures",
			},
			[]string{"kind"},
		),

		cacheResultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Rendered output cache lookups",
			},
			[]string{"result"},
		),

		cacheTierTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_tier_events_total",
				Help:      "Tiered cache hits per tier and shared tier failures",
			},
			[]string{"tier"},
		),

		engineRequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_requests_total",
				Help:      "Requests handled by the engine host",
			},
			[]string{"transport", "handler", "status"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Operation invocation duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		rowsReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rows_returned",
				Help:      "Rows returned per invocation",
				Buckets:   rowBuckets,
			},
			[]string{"operation"},
		),

		transportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transport_latency_milliseconds",
				Help:      "Engine transport round trip latency in milliseconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250},
			},
			[]string{"transport", "operation"},
		),

		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Number of invocations in flight",
			},
		),

		poolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections",
				Help:      "Pooled engine connections by state",
			},
			[]string{"address", "state"},
		),
	}

	registry.MustRegister(
		pm.invocationsTotal,
		pm.failuresTotal,
		pm.cacheResultsTotal,
		pm.cacheTierTotal,
		pm.engineRequestTotal,
		pm.invocationDuration,
		pm.rowsReturned,
		pm.transportLatency,
		pm.activeInvocations,
		pm.poolConnections,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation records an invocation in Prometheus collectors.
func RecordPrometheusInvocation(operation, format string, durationMs int64, rows int, success bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.invocationsTotal.WithLabelValues(operation, format, status).Inc()
	promMetrics.invocationDuration.WithLabelValues(operation).Observe(float64(durationMs))
	promMetrics.rowsReturned.WithLabelValues(operation).Observe(float64(rows))
}

// RecordFailure counts one error of the given kind.
func RecordFailure(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.failuresTotal.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if promMetrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	promMetrics.cacheResultsTotal.WithLabelValues(result).Inc()
}

// RecordCacheTier counts a tiered cache event: "l1", "l2" or "l2_error".
func RecordCacheTier(tier string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheTierTotal.WithLabelValues(tier).Inc()
}

// RecordEngineRequest counts a request served by the engine host.
func RecordEngineRequest(transport, handler string, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.engineRequestTotal.WithLabelValues(transport, handler, status).Inc()
}

// RecordTransportLatency records an engine round trip.
func RecordTransportLatency(transport, operation string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.transportLatency.WithLabelValues(transport, operation).Observe(durationMs)
}

// IncActiveInvocations increments the in-flight gauge.
func IncActiveInvocations() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeInvocations.Inc()
}

// DecActiveInvocations decrements the in-flight gauge.
func DecActiveInvocations() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeInvocations.Dec()
}

// SetPoolConnections sets the pooled connection gauges for an engine address.
func SetPoolConnections(address string, idle, busy int) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolConnections.WithLabelValues(address, "idle").Set(float64(idle))
	promMetrics.poolConnections.WithLabelValues(address, "busy").Set(float64(busy))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
