// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// ClaimsKey is the context key type the Gatekeeper filter uses to attach
// validated token claims to a request's scope.
type ClaimsKey struct{}

// AuthenticatedKey is the context key type the Gatekeeper filter uses to
// record whether a request carried a successfully verified bearer token.
type AuthenticatedKey struct{}

// IPAddressKey is the context key type RealIPMiddleware uses to attach the
// resolved client IP address for downstream rate limiting.
type IPAddressKey struct{}
