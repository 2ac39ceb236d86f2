// Package http provides the HTTP transport adapter for the policy engine.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/identitygate/identitygate/internal/ctxkey"
	"github.com/identitygate/identitygate/internal/service"
	"github.com/google/uuid"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates Origin header against an allowlist.
// This prevents DNS rebinding attacks by ensuring requests come from allowed origins.
// If allowedOrigins is empty, all requests with an Origin header are blocked (local-only mode).
// Requests without an Origin header are allowed (same-origin or non-browser).
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// gatekeeperExclusions lists paths that never require a bearer token. Requests
// to these paths proceed with authenticated=false regardless of what
// Authorization header (if any) they carry.
var gatekeeperExclusions = map[string]struct{}{
	"/":           {},
	"/health":     {},
	"/config":     {},
	"/docs":       {},
	"/openapi.json": {},
	"/auth/token": {},
}

// gatekeeperErrorBody is the JSON shape returned for a rejected request.
type gatekeeperErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func writeGatekeeperError(w http.ResponseWriter, status int, errCode, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(gatekeeperErrorBody{Error: errCode, ErrorDescription: description})
}

// GatekeeperFilter is the bearer-token pre-handler applied to every request.
// Excluded paths proceed unauthenticated. Everywhere else, a missing
// Authorization header also proceeds unauthenticated (handlers decide whether
// that's acceptable); a malformed header or an invalid/expired token is
// rejected outright. On success, the decoded claims are attached to the
// request context and authenticated is marked true.
func GatekeeperFilter(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, excluded := gatekeeperExclusions[r.URL.Path]; excluded {
				ctx := context.WithValue(r.Context(), ctxkey.AuthenticatedKey{}, false)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				ctx := context.WithValue(r.Context(), ctxkey.AuthenticatedKey{}, false)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !strings.HasPrefix(auth, "Bearer ") {
				writeGatekeeperError(w, http.StatusUnauthorized, "invalid_token", "invalid format")
				return
			}

			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims, err := authService.ValidateTokenAndGetClaims(r.Context(), tokenString)
			if err != nil {
				writeGatekeeperError(w, http.StatusUnauthorized, "invalid_token", "invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), ctxkey.ClaimsKey{}, claims)
			ctx = context.WithValue(ctx, ctxkey.AuthenticatedKey{}, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext retrieves the claims attached by GatekeeperFilter, if any.
func ClaimsFromContext(ctx context.Context) (service.Claims, bool) {
	claims, ok := ctx.Value(ctxkey.ClaimsKey{}).(service.Claims)
	return claims, ok
}

// IsAuthenticated reports whether GatekeeperFilter verified a bearer token
// for this request.
func IsAuthenticated(ctx context.Context) bool {
	authenticated, _ := ctx.Value(ctxkey.AuthenticatedKey{}).(bool)
	return authenticated
}

// RequireAuth is the required-auth handler-level dependency: it rejects with
// 401 if the request never authenticated, and with 403 if authenticated but
// claims are somehow missing (should not happen in practice, but the filter
// and the handler must agree independently).
func RequireAuth(next func(w http.ResponseWriter, r *http.Request, claims service.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthenticated(r.Context()) {
			writeGatekeeperError(w, http.StatusUnauthorized, "invalid_token", "authentication required")
			return
		}
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeGatekeeperError(w, http.StatusForbidden, "forbidden", "claims unavailable")
			return
		}
		next(w, r, claims)
	}
}

// OptionalAuth is the optional-auth handler-level dependency: it passes
// through the claims if present, or nil if the request was never
// authenticated.
func OptionalAuth(next func(w http.ResponseWriter, r *http.Request, claims *service.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsAuthenticated(r.Context()) {
			next(w, r, nil)
			return
		}
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			next(w, r, nil)
			return
		}
		next(w, r, &claims)
	}
}

// RealIPMiddleware extracts the client's real IP address for rate limiting.
// It checks X-Forwarded-For and X-Real-IP headers (for reverse proxy support),
// falling back to r.RemoteAddr if no proxy headers are present.
// Only the first IP in X-Forwarded-For is trusted to avoid spoofing.
// The IP is stored in context using ctxkey.IPAddressKey.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ctxkey.IPAddressKey{}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
