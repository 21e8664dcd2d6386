// Package metrics defines the Prometheus metric collectors used across the
// aggregator and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	AggregationsTotal       *prometheus.CounterVec
	AggregationLatency      *prometheus.HistogramVec
	AggregationResultsCount prometheus.Histogram
	CacheLookupsTotal       *prometheus.CounterVec
	RetryAttemptsTotal      *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec
	InvalidationsTotal      *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		AggregationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregations_total",
				Help: "Total aggregation runs by outcome (hit, miss, degraded, error).",
			},
			[]string{"outcome"},
		),
		AggregationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aggregation_latency_seconds",
				Help:    "Aggregation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"cache_status"},
		),
		AggregationResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aggregation_results_count",
				Help:    "Number of ranked results returned per aggregation.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_lookups_total",
				Help: "Cache lookups by result (hit, miss, expired).",
			},
			[]string{"result"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retry_attempts_total",
				Help: "Retries scheduled after a failed attempt, by operation.",
			},
			[]string{"operation"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_invalidation_events_total",
				Help: "Cache invalidation events consumed, by kind and status.",
			},
			[]string{"kind", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.AggregationsTotal,
		m.AggregationLatency,
		m.AggregationResultsCount,
		m.CacheLookupsTotal,
		m.RetryAttemptsTotal,
		m.CircuitBreakerState,
		m.InvalidationsTotal,
	)

	return m
}

// ObserveCache counts a cache lookup. It satisfies cache.Observer.
func (m *Metrics) ObserveCache(result string) {
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts a scheduled retry for operation.
func (m *Metrics) ObserveRetry(operation string) {
	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// SetCircuitState records a breaker state using its numeric encoding.
func (m *Metrics) SetCircuitState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for gatherer. A nil
// gatherer serves the global default registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
