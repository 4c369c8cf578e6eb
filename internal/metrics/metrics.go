package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionhub_jobs_total",
			Help: "Compression jobs handled, by outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionhub_job_duration_seconds",
			Help:    "Time spent handling one compression job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	DeadLetters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captionhub_dead_letters_total",
			Help: "Jobs moved to the dead-letter stream after exhausting deliveries",
		},
	)

	EnqueueFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captionhub_enqueue_failures_total",
			Help: "Jobs that could not be published after the record was committed",
		},
	)

	Republished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captionhub_reconcile_republished_total",
			Help: "Jobs re-published by the reconciliation sweep",
		},
	)

	CryptoFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionhub_crypto_fallbacks_total",
			Help: "Caption transforms that fell back to passing the text through",
		},
		[]string{"action"},
	)

	RedisReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captionhub_redis_reconnects_total",
			Help: "Redis clients replaced by the health loop",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captionhub_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captionhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		JobDuration,
		DeadLetters,
		EnqueueFailures,
		Republished,
		CryptoFallbacks,
		RedisReconnects,
		RequestsTotal,
		RequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// NewServer returns a standalone metrics server for processes without an API.
func NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ObserveJob records the outcome of one handled message.
func ObserveJob(outcome string, took time.Duration) {
	JobsTotal.WithLabelValues(outcome).Inc()
	JobDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			RequestsTotal.WithLabelValues(service, r.Method, route, strconv.Itoa(status)).Inc()
			RequestDuration.WithLabelValues(service, r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
