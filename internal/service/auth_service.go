package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/identitygate/identitygate/internal/domain/credential"
	"github.com/identitygate/identitygate/internal/domain/identity"
	"github.com/identitygate/identitygate/internal/domain/token"
)

// defaultScope is substituted when a grant's requested scope intersects
// the credential's allowed scope set to nothing.
var defaultScope = []string{"read"}

// GrantType selects which credential table AuthenticateAndIssue validates
// against.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
)

// ErrUnsupportedGrantType is returned for any grantType other than the two
// supported flows.
var ErrUnsupportedGrantType = errors.New("auth: unsupported grant_type")

// TokenRequest is the input to AuthenticateAndIssue, carrying whichever
// credential pair its GrantType calls for.
type TokenRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
}

// TokenResponse is the OAuth2-shaped success response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// AuthService implements component F: grant-flow authentication and token
// issuance, plus a thin claims-validation wrapper for /auth/me.
type AuthService struct {
	credentials   credential.Store
	users         identity.UserLookup
	tokens        token.Manager
	logger        *slog.Logger
	defaultTTLMin int
}

// NewAuthService constructs an AuthService. users may be nil, in which case
// the password grant's SCIM active-status check is skipped entirely.
func NewAuthService(credentials credential.Store, users identity.UserLookup, tokens token.Manager, defaultTTLMin int, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTLMin <= 0 {
		defaultTTLMin = 60
	}
	return &AuthService{
		credentials:   credentials,
		users:         users,
		tokens:        tokens,
		logger:        logger,
		defaultTTLMin: defaultTTLMin,
	}
}

// AuthenticateAndIssue validates req's credentials against the appropriate
// table and, on success, issues a bearer token. A rejected request returns
// credential.ErrInvalidCredentials or ErrUserInactive (401 at the HTTP
// layer) or ErrUnsupportedGrantType (400); a signing failure from the
// Token Manager is returned as is (500).
func (s *AuthService) AuthenticateAndIssue(ctx context.Context, req TokenRequest) (TokenResponse, error) {
	var rec credential.Record
	var err error

	switch req.GrantType {
	case GrantClientCredentials:
		rec, err = s.credentials.ValidateClient(ctx, req.ClientID, req.ClientSecret)
	case GrantPassword:
		rec, err = s.credentials.ValidateUser(ctx, req.Username, req.Password)
		if err == nil {
			if inactiveErr := s.checkUserActive(ctx, req.Username); inactiveErr != nil {
				return TokenResponse{}, inactiveErr
			}
		}
	default:
		s.logger.Warn("unsupported grant type requested", "grant_type", req.GrantType)
		return TokenResponse{}, ErrUnsupportedGrantType
	}

	if err != nil {
		s.logger.Warn("authentication failed", "grant_type", req.GrantType, "error", err)
		return TokenResponse{}, err
	}

	scope := intersectScope(req.Scope, rec.AllowedScope)

	accessToken, err := s.tokens.Issue(ctx, token.Payload{
		Subject:   rec.Attributes.Subject,
		Scope:     scope,
		Groups:    rec.Attributes.Groups,
		Dept:      rec.Attributes.Dept,
		RiskScore: rec.Attributes.RiskScore,
	}, s.defaultTTLMin)
	if err != nil {
		s.logger.Error("token issuance failed", "subject", rec.Attributes.Subject, "error", err)
		return TokenResponse{}, err
	}

	s.logger.Info("authentication successful", "subject", rec.Attributes.Subject, "grant_type", req.GrantType, "scope", scope)

	return TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.defaultTTLMin * 60,
		Scope:       strings.Join(scope, " "),
	}, nil
}

// ErrUserInactive is returned by the password grant when the SCIM store
// knows the user and has marked them inactive.
var ErrUserInactive = errors.New("auth: user inactive")

// checkUserActive consults the SCIM store as a non-fatal side lookup: any
// error (including a bounded-timeout miss) is logged and treated as
// "status unknown", proceeding with authentication, per the "do not fail
// closed on this optional check" concurrency rule.
func (s *AuthService) checkUserActive(ctx context.Context, username string) error {
	if s.users == nil {
		return nil
	}
	user, err := s.users.LookupUserByName(ctx, username)
	if err != nil {
		s.logger.Warn("could not check user status in identity store, proceeding", "username", username, "error", err)
		return nil
	}
	if !user.Active {
		s.logger.Warn("user is inactive", "username", username)
		return ErrUserInactive
	}
	return nil
}

// intersectScope returns the tokens in requested that also appear in
// allowed, defaulting to ["read"] when the intersection is empty.
func intersectScope(requested string, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}

	var out []string
	for _, tok := range strings.Fields(requested) {
		if _, ok := allowedSet[tok]; ok {
			out = append(out, tok)
		}
	}
	if len(out) == 0 {
		out = append([]string(nil), defaultScope...)
	}
	return out
}

// Claims is the structured, HTTP-facing view of a validated token,
// mirroring token.Claims but with wire-friendly timestamps.
type Claims struct {
	Subject   string    `json:"sub"`
	Scope     string    `json:"scope"`
	Groups    []string  `json:"groups"`
	Dept      string    `json:"dept"`
	RiskScore int       `json:"riskScore"`
	Issuer    string    `json:"iss,omitempty"`
	Audience  string    `json:"aud,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
}

// ValidateTokenAndGetClaims is a thin wrapper over TokenManager.Verify that
// maps decoded claims into the HTTP-facing Claims shape.
func (s *AuthService) ValidateTokenAndGetClaims(ctx context.Context, tokenString string) (Claims, error) {
	c, err := s.tokens.Verify(ctx, tokenString)
	if err != nil {
		s.logger.Warn("token validation failed", "error", err)
		return Claims{}, err
	}
	return Claims{
		Subject:   c.Subject,
		Scope:     strings.Join(c.Scope, " "),
		Groups:    c.Groups,
		Dept:      c.Dept,
		RiskScore: c.RiskScore,
		Issuer:    c.Issuer,
		Audience:  c.Audience,
		ExpiresAt: c.ExpiresAt,
		IssuedAt:  c.IssuedAt,
	}, nil
}
