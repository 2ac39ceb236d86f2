// Package credential contains the domain contract for the static
// client_credentials/password grant table the Auth Service validates
// against: credential records, their canonical claim attributes, and the
// Store interface implemented by the credential-table adapter.
package credential

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned by both ValidateClient and
// ValidateUser on any lookup miss or secret/password mismatch. The two
// failure modes (unknown identifier vs. wrong secret) are deliberately
// collapsed into one error, so callers can't distinguish "no such client"
// from "wrong secret" by error type alone — per the spec's uniform
// invalid_client/invalid_grant response shape.
var ErrInvalidCredentials = errors.New("credential: invalid credentials")

// Attributes is the canonical claim material a matched credential record
// carries into a Claims payload.
type Attributes struct {
	Subject   string
	Dept      string
	Groups    []string
	RiskScore int
}

// Record pairs a credential's canonical attributes with the scope set it
// is allowed to request.
type Record struct {
	Attributes   Attributes
	AllowedScope []string
}

// Store is the credential-table contract for both grant flows.
type Store interface {
	// ValidateClient checks a client_credentials pair and returns the
	// matched record on success, ErrInvalidCredentials otherwise.
	ValidateClient(ctx context.Context, clientID, clientSecret string) (Record, error)

	// ValidateUser checks a password-grant pair and returns the matched
	// record on success, ErrInvalidCredentials otherwise.
	ValidateUser(ctx context.Context, username, password string) (Record, error)
}
