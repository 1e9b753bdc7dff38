package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	StatementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_statements_total",
			Help: "Total number of SQL statements executed by database type and outcome",
		},
		[]string{"db_type", "outcome"},
	)
	StatementDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_statement_duration_seconds",
			Help:    "SQL statement execution duration in seconds",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 5, 30},
		},
		[]string{"db_type"},
	)

	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sessions_live",
			Help: "Number of currently registered sessions",
		},
	)
	PoolsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_pools_open",
			Help: "Number of open connection pools by database type",
		},
		[]string{"db_type"},
	)

	CollectorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_collector_runs_total",
			Help: "Total number of collector runs by database type and outcome",
		},
		[]string{"db_type", "outcome"},
	)

	SamplerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sampler_ticks_total",
			Help: "Total number of sampler ticks by outcome (ok, error, skipped)",
		},
		[]string{"outcome"},
	)
	SamplersRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_samplers_running",
			Help: "Number of samplers currently in RUNNING state",
		},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(StatementsTotal)
	prometheus.MustRegister(StatementDuration)
	prometheus.MustRegister(SessionsLive)
	prometheus.MustRegister(PoolsOpen)
	prometheus.MustRegister(CollectorRunsTotal)
	prometheus.MustRegister(SamplerTicksTotal)
	prometheus.MustRegister(SamplersRunning)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveStatement records one executed statement with its duration.
func ObserveStatement(dbType, outcome string, d time.Duration) {
	StatementsTotal.WithLabelValues(dbType, outcome).Inc()
	StatementDuration.WithLabelValues(dbType).Observe(d.Seconds())
}

func SessionOpened() {
	SessionsLive.Inc()
}

func SessionClosed() {
	SessionsLive.Dec()
}

func PoolOpened(dbType string) {
	PoolsOpen.WithLabelValues(dbType).Inc()
}

func PoolClosed(dbType string) {
	PoolsOpen.WithLabelValues(dbType).Dec()
}

func CollectorRun(dbType, outcome string) {
	CollectorRunsTotal.WithLabelValues(dbType, outcome).Inc()
}

func SamplerTick(outcome string) {
	SamplerTicksTotal.WithLabelValues(outcome).Inc()
}

func SamplerStarted() {
	SamplersRunning.Inc()
}

func SamplerStopped() {
	SamplersRunning.Dec()
}

// ObserveAIRequest records one AI call with its duration.
func ObserveAIRequest(operation, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	AIRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}
