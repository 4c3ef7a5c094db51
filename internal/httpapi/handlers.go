package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"github.com/rs/cors"

	"labkeeper.org/internal/auth"
	"labkeeper.org/internal/obs"
)

// Pinger checks connectivity to the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether the schema guard has finished.
type ReadyChecker interface {
	Ready() bool
}

// ReadyProbe checks the store connection and schema readiness.
type ReadyProbe struct {
	Store  Pinger
	Schema ReadyChecker
}

var errSchemaNotReady = errors.New("schema not initialized")

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Schema != nil && !rp.Schema.Ready() {
		return errSchemaNotReady
	}
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Authenticator is the credential service used by the handlers.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (auth.Result, error)
	SetPassword(ctx context.Context, actor string, accountID int64, password string) error
	UsernameTaken(ctx context.Context, username string) (bool, error)
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       Authenticator
	tokens     *auth.Tokens

	rateBurst  int
	ratePerSec float64
	cors       *cors.Cors
	proxies    []netip.Prefix
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-client login rate limit.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lets the login rate limit key on X-Forwarded-For when
// the peer address falls in one of proxies.
func WithTrustedProxies(proxies []netip.Prefix) Option {
	return func(a *API) {
		a.proxies = append([]netip.Prefix(nil), proxies...)
	}
}

// WithCORS allows browser clients from origins. No origins disables CORS.
func WithCORS(origins []string) Option {
	return func(a *API) {
		if len(origins) == 0 {
			return
		}
		a.cors = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader, "Retry-After"},
			MaxAge:         600,
		})
	}
}

func New(rp ReadyProbe, version string, svc Authenticator, tokens *auth.Tokens, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		auth:       svc,
		tokens:     tokens,
		rateBurst:  10,
		ratePerSec: 5,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), a.rateBurst, a.ratePerSec, a.proxies...))
	a.mux.Handle("/v1/auth/me", a.withAuth(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("/v1/accounts/available", a.withAuth(RequireRole("admin")(http.HandlerFunc(a.handleUsernameAvailable))))
	a.mux.Handle("/v1/accounts/{id}/password", a.withAuth(http.HandlerFunc(a.handleSetPassword)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	if a.cors != nil {
		h = a.cors.Handler(h)
	}
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "labd",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.Log("warn", "readiness check failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "labd",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
