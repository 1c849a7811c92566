package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medroute"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing,
// so services can be constructed without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EdgeLookups         *prometheus.CounterVec
	RoutingRequests     *prometheus.CounterVec
	RoutingDuration     *prometheus.HistogramVec
	SolverDuration      prometheus.Histogram
	MergeReductions     prometheus.Counter
	UnservedStops       prometheus.Counter
	StabilityUpdates    *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	m.EdgeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_lookups_total",
			Help:      "Edge lookups by source (live, fallback, cache)",
		},
		[]string{"source"},
	)

	m.RoutingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_requests_total",
			Help:      "Routing requests by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)

	m.RoutingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "routing_duration_seconds",
			Help:      "End-to-end routing request duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"scope"},
	)

	m.SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solver_duration_seconds",
			Help:      "Solver oracle call duration in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	m.MergeReductions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_reductions_total",
			Help:      "Routes removed by consolidation",
		},
	)

	m.UnservedStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unserved_stops_total",
			Help:      "Stops left out because no feasible trip could serve them",
		},
	)

	m.StabilityUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stability_updates_total",
			Help:      "Telemetry updates by outcome",
		},
		[]string{"outcome"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EdgeLookups,
		m.RoutingRequests,
		m.RoutingDuration,
		m.SolverDuration,
		m.MergeReductions,
		m.UnservedStops,
		m.StabilityUpdates,
		m.CircuitBreakerState,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHTTP(method, path string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(dur.Seconds())
}

func (m *Metrics) EdgeLookup(source string) {
	if m == nil {
		return
	}
	m.EdgeLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRouting(scope, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.RoutingRequests.WithLabelValues(scope, outcome).Inc()
	m.RoutingDuration.WithLabelValues(scope).Observe(dur.Seconds())
}

func (m *Metrics) ObserveSolver(dur time.Duration) {
	if m == nil {
		return
	}
	m.SolverDuration.Observe(dur.Seconds())
}

func (m *Metrics) AddMergeReductions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MergeReductions.Add(float64(n))
}

func (m *Metrics) AddUnserved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.UnservedStops.Add(float64(n))
}

func (m *Metrics) StabilityUpdate(outcome string) {
	if m == nil {
		return
	}
	m.StabilityUpdates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
