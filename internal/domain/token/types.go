// Package token contains the domain contract for bearer token issuance and
// verification: claims, the Algorithm enum, and the TokenManager interface
// implemented by the HS256/RS256 adapter.
package token

import (
	"context"
	"errors"
	"time"
)

// Algorithm is the signing algorithm a TokenManager is configured for.
type Algorithm string

const (
	HS256 Algorithm = "HS256"
	RS256 Algorithm = "RS256"
)

// Valid reports whether a is one of the two supported algorithms.
func (a Algorithm) Valid() bool {
	return a == HS256 || a == RS256
}

// ErrTokenExpired is returned by Verify when the token's exp claim has
// passed. ErrTokenInvalid covers every other verification failure
// (signature, iss, aud, malformed structure) — callers map both to a
// uniform 401, distinguishing between them only in logs.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the structured representation of a decoded bearer token.
type Claims struct {
	Subject   string   `json:"sub"`
	Scope     []string `json:"scope"`
	Groups    []string `json:"groups"`
	Dept      string   `json:"dept"`
	RiskScore int      `json:"riskScore"`
	Issuer    string   `json:"iss"`
	Audience  string   `json:"aud"`
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Payload is the caller-supplied claim set passed to Issue; IssuedAt,
// ExpiresAt, Issuer, and Audience are computed by the TokenManager and
// must not be set by callers.
type Payload struct {
	Subject   string
	Scope     []string
	Groups    []string
	Dept      string
	RiskScore int
}

// Manager is the Token Manager contract (component E): issuance,
// verification, refresh, and unsafe structural decode.
type Manager interface {
	// Issue signs a new token for payload with the given TTL in minutes.
	Issue(ctx context.Context, payload Payload, ttlMinutes int) (string, error)

	// Verify validates signature, exp, iat, iss, and aud, returning the
	// decoded Claims on success. Returns ErrTokenExpired or ErrTokenInvalid
	// on failure.
	Verify(ctx context.Context, tokenString string) (Claims, error)

	// Refresh verifies token, then re-signs a fresh token carrying the same
	// payload with new iat/exp. ttlMinutes of zero reuses the manager's
	// configured default.
	Refresh(ctx context.Context, tokenString string, ttlMinutes int) (string, error)

	// DecodeWithoutVerification performs a structural decode only, with no
	// signature or claim validation. Never used on any authorization path.
	DecodeWithoutVerification(tokenString string) (Claims, error)

	// PublicKeyPEM exports the RS256 verification key for out-of-band
	// sharing. Returns an error for HS256 managers.
	PublicKeyPEM() (string, error)
}
