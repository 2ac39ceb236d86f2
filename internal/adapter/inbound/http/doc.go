// Package http provides the inbound HTTP transport for the identity and
// access control service.
//
// # Usage
//
// Build a ServeMux wiring handlers to the authorization service, auth
// service, and health/metrics endpoints, then wrap it with the middleware
// chain below before passing it to http.Server.
//
// # Endpoints
//
//	POST /auth/token              - Issue a bearer token (client_credentials or password grant)
//	GET  /auth/me                 - Decode claims for the caller's current bearer token
//	POST /authz/evaluate          - Evaluate an authorization request against loaded policies
//	POST /authz/policies/reload   - Reload policies from disk (admin group only)
//	GET  /authz/policies          - Per-policy applicability breakdown for a given context
//	GET  /authz/metrics           - Service metrics snapshot
//	GET  /health                  - Liveness/readiness of wired components
//
// # Request Headers
//
//	Authorization: Bearer <token>  - Bearer token for protected routes
//
// # Security Features
//
//   - DNS rebinding protection: Origin header validation via WithAllowedOrigins
//   - Gatekeeper filter: bearer-token verification ahead of every non-excluded route
//   - Real IP extraction: from X-Forwarded-For/X-Real-IP for rate limiting
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. RequestIDMiddleware  - assigns/propagates a request ID, enriches the logger
//  2. RealIPMiddleware     - extracts client IP from proxy headers
//  3. DNSRebindingProtection - validates Origin header
//  4. GatekeeperFilter     - verifies bearer tokens, attaches claims to context
//  5. Handler              - routes to the endpoint's handler function
package http
