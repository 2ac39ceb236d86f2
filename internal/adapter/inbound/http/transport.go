// Package http provides the HTTP transport adapter for the policy engine.
package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/identitygate/identitygate/internal/adapter/outbound/memory"
	"github.com/identitygate/identitygate/internal/ctxkey"
	"github.com/identitygate/identitygate/internal/domain/identity"
	"github.com/identitygate/identitygate/internal/domain/ratelimit"
	"github.com/identitygate/identitygate/internal/service"
)

// HTTPTransport is the inbound adapter that exposes the authentication and
// authorization services over HTTP.
type HTTPTransport struct {
	authService    *service.AuthService
	authzService   *service.AuthorizationService
	identityStore  identity.Store
	rateLimiter    *memory.MemoryRateLimiter
	healthChecker  *HealthChecker

	tokenRateLimit    ratelimit.RateLimitConfig
	evaluateRateLimit ratelimit.RateLimitConfig

	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker backing both /health and
// /authz/health.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithIdentityStore wires the SCIM store behind /scim/v2/*. When nil, the
// SCIM routes are not registered.
func WithIdentityStore(store identity.Store) Option {
	return func(t *HTTPTransport) {
		t.identityStore = store
	}
}

// WithRateLimiter wires the shared rate limiter enforcing the per-IP
// /auth/token and /authz/evaluate limits spec.md §6 names.
func WithRateLimiter(rl *memory.MemoryRateLimiter) Option {
	return func(t *HTTPTransport) {
		t.rateLimiter = rl
	}
}

// WithTokenRateLimit overrides the default /auth/token rate (10/min/IP).
func WithTokenRateLimit(cfg ratelimit.RateLimitConfig) Option {
	return func(t *HTTPTransport) {
		t.tokenRateLimit = cfg
	}
}

// WithEvaluateRateLimit overrides the default /authz/evaluate rate
// (100/min/IP).
func WithEvaluateRateLimit(cfg ratelimit.RateLimitConfig) Option {
	return func(t *HTTPTransport) {
		t.evaluateRateLimit = cfg
	}
}

// NewHTTPTransport creates an HTTP transport adapter wrapping the
// authentication and authorization services.
func NewHTTPTransport(authService *service.AuthService, authzService *service.AuthorizationService, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		authService:       authService,
		authzService:      authzService,
		addr:              "127.0.0.1:8080",
		allowedOrigins:    []string{},
		logger:            slog.Default(),
		tokenRateLimit:    ratelimit.RateLimitConfig{Rate: 10, Burst: 10, Period: time.Minute},
		evaluateRateLimit: ratelimit.RateLimitConfig{Rate: 100, Burst: 100, Period: time.Minute},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// rateLimitMiddleware enforces cfg against the IP RealIPMiddleware attached
// to the request context, keyed per-route so /auth/token and
// /authz/evaluate track separate budgets for the same caller.
func rateLimitMiddleware(rl *memory.MemoryRateLimiter, routeKey string, cfg ratelimit.RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl == nil {
				next.ServeHTTP(w, r)
				return
			}
			ip, _ := r.Context().Value(ctxkey.IPAddressKey{}).(string)
			key := ratelimit.FormatKey(ratelimit.KeyTypeIP, routeKey+":"+ip)
			result, err := rl.Allow(r.Context(), key, cfg)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", result.RetryAfter.Truncate(time.Second).String())
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start begins accepting HTTP connections. It blocks until the context is
// cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg)

	mux := http.NewServeMux()

	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
		mux.Handle("/authz/health", t.healthChecker.Handler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.Handle("/auth/token", rateLimitMiddleware(t.rateLimiter, "auth_token", t.tokenRateLimit)(
		handleToken(t.authService, t.metrics)))
	mux.Handle("/auth/me", RequireAuth(handleMe))

	mux.Handle("/authz/evaluate", rateLimitMiddleware(t.rateLimiter, "evaluate", t.evaluateRateLimit)(
		handleEvaluate(t.authzService)))
	mux.Handle("/authz/policies/reload", RequireAuth(handlePoliciesReload(t.authzService)))
	mux.Handle("/authz/policies", OptionalAuth(handlePoliciesDebug(t.authzService)))
	mux.Handle("/authz/metrics", handleMetrics(t.authzService, t.metrics))

	if t.identityStore != nil {
		mux.Handle("/scim/v2/Users", handleSCIMUsers(t.identityStore))
		mux.Handle("/scim/v2/Users/{id}", handleSCIMUserByID(t.identityStore))
		mux.Handle("/scim/v2/Groups", handleSCIMGroups(t.identityStore))
	}

	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Middleware chain (outermost first): Metrics -> RequestID -> RealIP ->
	// DNSRebinding -> Gatekeeper -> mux.
	var handler http.Handler = mux
	handler = GatekeeperFilter(t.authService)(handler)
	handler = DNSRebindingProtection(t.allowedOrigins)(handler)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: handler,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
