package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics (local page surface)
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Token lifecycle metrics
	TokenRefreshTotal    *prometheus.CounterVec
	SessionAuthenticated prometheus.Gauge
	SessionUpdatesTotal  *prometheus.CounterVec

	// Request pipeline metrics
	PipelineRetriesTotal  *prometheus.CounterVec
	PipelineRequestsTotal *prometheus.CounterVec

	// Route guard metrics
	GuardDecisionsTotal *prometheus.CounterVec

	// User cache metrics
	UserCacheHitsTotal   prometheus.Counter
	UserCacheMissesTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_http_requests_total",
				Help: "Total number of HTTP requests served by the gateway",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portalgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_token_refresh_total",
				Help: "Total number of token refresh attempts",
			},
			[]string{"result"}, // refreshed, skipped, failed
		),
		SessionAuthenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "portalgate_session_authenticated",
				Help: "Whether the current session is authenticated (1) or not (0)",
			},
		),
		SessionUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_session_updates_total",
				Help: "Total number of committed session updates",
			},
			[]string{"transition"}, // authenticated, unauthenticated, token_rotated
		),
		PipelineRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_pipeline_retries_total",
				Help: "Total number of refresh-and-retry attempts in the request pipeline",
			},
			[]string{"outcome"}, // retried, refresh_failed
		),
		PipelineRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_pipeline_requests_total",
				Help: "Total number of outbound API requests dispatched through the pipeline",
			},
			[]string{"status"},
		),
		GuardDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portalgate_guard_decisions_total",
				Help: "Total number of route guard decisions",
			},
			[]string{"guard", "decision"}, // auth/role, allowed/login_redirect/landing_redirect
		),
		UserCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portalgate_user_cache_hits_total",
				Help: "Total number of user cache hits",
			},
		),
		UserCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "portalgate_user_cache_misses_total",
				Help: "Total number of user cache misses",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.TokenRefreshTotal,
		m.SessionAuthenticated,
		m.SessionUpdatesTotal,
		m.PipelineRetriesTotal,
		m.PipelineRequestsTotal,
		m.GuardDecisionsTotal,
		m.UserCacheHitsTotal,
		m.UserCacheMissesTotal,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
