// Package metrics provides the Prometheus registry for JetVein.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
//
// Every recording method is safe to call on a nil *Registry, which lets
// subsystems run without metrics in tests.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var latencyBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// jetvein_inflight_requests
	inFlight prometheus.Gauge

	// jetvein_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// jetvein_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// jetvein_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// jetvein_ratelimit_total{scope,result}
	rateLimitTotal *prometheus.CounterVec

	// jetvein_auth_gate_total{result}
	authGate *prometheus.CounterVec

	// jetvein_upstream_requests_total{source,op,outcome}
	upstreamTotal *prometheus.CounterVec

	// jetvein_upstream_duration_seconds{source,op,outcome}
	upstreamDuration *prometheus.HistogramVec

	// jetvein_circuit_breaker_state{source}: 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// jetvein_circuit_breaker_transitions_total{source,to_state}
	cbTransitions *prometheus.CounterVec

	// jetvein_history_writes_total{result}
	historyWrites *prometheus.CounterVec

	// jetvein_analytics_events_total{result}
	analyticsEvents *prometheus.CounterVec

	// jetvein_dependency_health{dependency}
	dependencyHealth *prometheus.GaugeVec

	// jetvein_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jetvein_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_http_requests_total",
				Help: "Total number of HTTP requests by matched route and status",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jetvein_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"route"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_cache_operations_total",
				Help: "Cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_ratelimit_total",
				Help: "Rate limit decisions by scope",
			},
			[]string{"scope", "result"},
		),

		authGate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_auth_gate_total",
				Help: "Auth gate outcomes for protected routes",
			},
			[]string{"result"},
		),

		upstreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_upstream_requests_total",
				Help: "Flight data source calls",
			},
			[]string{"source", "op", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jetvein_upstream_duration_seconds",
				Help:    "Flight data source call duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"source", "op", "outcome"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jetvein_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"source"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"source", "to_state"},
		),

		historyWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_history_writes_total",
				Help: "Background search-history writes by result",
			},
			[]string{"result"},
		),

		analyticsEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jetvein_analytics_events_total",
				Help: "Analytics events by result (written, dropped, failed)",
			},
			[]string{"result"},
		),

		dependencyHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jetvein_dependency_health",
				Help: "Dependency health status (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "jetvein_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.cacheOps,
		r.rateLimitTotal,
		r.authGate,
		r.upstreamTotal,
		r.upstreamDuration,
		r.circuitBreakerState,
		r.cbTransitions,
		r.historyWrites,
		r.analyticsEvents,
		r.dependencyHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Registry) DecInFlight() {
	if r != nil {
		r.inFlight.Dec()
	}
}

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	if r == nil {
		return
	}
	r.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// CacheOp records one cache operation, e.g. ("get", "hit") or ("set", "error").
func (r *Registry) CacheOp(op, result string) {
	if r != nil {
		r.cacheOps.WithLabelValues(op, result).Inc()
	}
}

// RecordRateLimit records a limiter decision. result is one of allowed,
// limited or error.
func (r *Registry) RecordRateLimit(scope, result string) {
	if r != nil {
		r.rateLimitTotal.WithLabelValues(scope, result).Inc()
	}
}

func (r *Registry) RecordAuthGate(result string) {
	if r != nil {
		r.authGate.WithLabelValues(result).Inc()
	}
}

// ObserveUpstream records one flight data source call.
func (r *Registry) ObserveUpstream(source, op, outcome string, dur time.Duration) {
	if r == nil {
		return
	}
	r.upstreamTotal.WithLabelValues(source, op, outcome).Inc()
	r.upstreamDuration.WithLabelValues(source, op, outcome).Observe(dur.Seconds())
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(source string, state int64) {
	if r == nil {
		return
	}
	r.circuitBreakerState.WithLabelValues(source).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[source]
	if !ok || prev != float64(state) {
		r.lastCBState[source] = float64(state)
		r.cbTransitions.WithLabelValues(source, strconv.FormatInt(state, 10)).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordHistoryWrite(result string) {
	if r != nil {
		r.historyWrites.WithLabelValues(result).Inc()
	}
}

func (r *Registry) RecordAnalytics(result string, n int) {
	if r != nil && n > 0 {
		r.analyticsEvents.WithLabelValues(result).Add(float64(n))
	}
}

func (r *Registry) SetDependencyHealth(dependency string, ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.dependencyHealth.WithLabelValues(dependency).Set(1)
		return
	}
	r.dependencyHealth.WithLabelValues(dependency).Set(0)
}

func (r *Registry) SetBuildInfo(version string) {
	if r == nil {
		return
	}
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
