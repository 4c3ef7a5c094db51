package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Authentication outcomes.
const (
	AuthOutcomeSuccess     = "success"
	AuthOutcomeInvalid     = "invalid"
	AuthOutcomeUnavailable = "unavailable"
)

// Password migration results.
const (
	MigrationSucceeded = "succeeded"
	MigrationFailed    = "failed"
)

var (
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	passwordMigrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_migrations_total",
			Help: "Legacy secrets rewritten in the keyed format, by result.",
		},
		[]string{"result"},
	)

	schemaChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_changes_total",
			Help: "Schema changes applied at startup, by kind.",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authAttempts, passwordMigrations, schemaChanges,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthAttempt counts one login attempt.
func AuthAttempt(outcome string) { authAttempts.WithLabelValues(outcome).Inc() }

// PasswordMigration counts one legacy secret rewrite.
func PasswordMigration(result string) { passwordMigrations.WithLabelValues(result).Inc() }

// SchemaChange counts one applied schema change of kind (database, table, column, seed).
func SchemaChange(kind string) { schemaChanges.WithLabelValues(kind).Inc() }

// CanonicalPath collapses request paths into a bounded label set.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// /v1/accounts/{id}[/password]
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "accounts" {
		switch {
		case len(parts) == 3 && parts[2] == "available":
			return "/v1/accounts/available"
		case len(parts) == 3:
			return "/v1/accounts/:id"
		case len(parts) == 4 && parts[3] == "password":
			return "/v1/accounts/:id/password"
		}
	}
	return path
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
