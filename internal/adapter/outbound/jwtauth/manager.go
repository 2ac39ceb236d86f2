// Package jwtauth implements token.Manager using github.com/golang-jwt/jwt/v5,
// supporting HS256 (symmetric secret) and RS256 (RSA key pair) signing.
package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/identitygate/identitygate/internal/domain/token"
)

var _ token.Manager = (*Manager)(nil)

// Config configures a Manager. Algorithm selects HS256 or RS256; Secret is
// required for HS256. PrivateKeyPEM/PublicKeyPEM are optional for RS256 —
// when both are empty and Environment is "development", the Manager
// generates an ephemeral RSA-2048 pair and logs a warning. In any other
// environment, a missing RS256 key pair is a hard construction failure.
type Config struct {
	Algorithm     token.Algorithm
	Secret        string
	PrivateKeyPEM string
	PublicKeyPEM  string
	Issuer        string
	Audience      string
	DefaultTTLMin int
	Environment   string
}

// Manager issues and verifies bearer tokens for a single configured
// algorithm. It holds no mutable state after construction; key material is
// fixed for the lifetime of the process.
type Manager struct {
	algorithm     token.Algorithm
	secret        []byte
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	issuer        string
	audience      string
	defaultTTLMin int
	logger        *slog.Logger
}

// New constructs a Manager from cfg. Key loading failures are returned
// rather than panicking, so callers can fail startup cleanly.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Algorithm.Valid() {
		return nil, fmt.Errorf("jwtauth: unsupported algorithm %q", cfg.Algorithm)
	}
	if cfg.DefaultTTLMin <= 0 {
		cfg.DefaultTTLMin = 60
	}

	m := &Manager{
		algorithm:     cfg.Algorithm,
		issuer:        cfg.Issuer,
		audience:      cfg.Audience,
		defaultTTLMin: cfg.DefaultTTLMin,
		logger:        logger,
	}

	switch cfg.Algorithm {
	case token.HS256:
		if cfg.Secret == "" {
			return nil, errors.New("jwtauth: JWT_SECRET is required for HS256 algorithm")
		}
		if cfg.Environment == "production" && len(cfg.Secret) < 32 {
			return nil, errors.New("jwtauth: JWT_SECRET must be at least 32 bytes in production")
		}
		m.secret = []byte(cfg.Secret)
		logger.Info("jwt manager initialized", "algorithm", "HS256")

	case token.RS256:
		if cfg.PrivateKeyPEM != "" && cfg.PublicKeyPEM != "" {
			priv, pub, err := loadRSAKeyPairFromPEM(cfg.PrivateKeyPEM, cfg.PublicKeyPEM)
			if err != nil {
				return nil, fmt.Errorf("jwtauth: failed to load RSA keys from configuration: %w", err)
			}
			m.privateKey, m.publicKey = priv, pub
		} else {
			if cfg.Environment != "development" {
				return nil, errors.New("jwtauth: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required for RS256 outside development")
			}
			logger.Warn("generating RSA keys for development, use environment variables in production")
			priv, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				return nil, fmt.Errorf("jwtauth: failed to generate RSA keys: %w", err)
			}
			m.privateKey, m.publicKey = priv, &priv.PublicKey
		}
		logger.Info("jwt manager initialized", "algorithm", "RS256")
	}

	return m, nil
}

// loadRSAKeyPairFromPEM decodes private/public PEM material, auto-detecting
// and unwrapping a base64 envelope around the PEM block (common when keys
// are passed through environment variables that can't carry raw newlines).
func loadRSAKeyPairFromPEM(privateData, publicData string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateData = unwrapBase64PEM(privateData)
	publicData = unwrapBase64PEM(publicData)

	privBlock, _ := pem.Decode([]byte(privateData))
	if privBlock == nil {
		return nil, nil, errors.New("invalid private key PEM")
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		privKey, err2 := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
		if err2 != nil {
			return nil, nil, fmt.Errorf("parse private key: %w", err)
		}
		privAny = privKey
	}
	priv, ok := privAny.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.New("private key is not RSA")
	}

	pubBlock, _ := pem.Decode([]byte(publicData))
	if pubBlock == nil {
		return nil, nil, errors.New("invalid public key PEM")
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, nil, errors.New("public key is not RSA")
	}

	return priv, pub, nil
}

// unwrapBase64PEM detects a PEM block that has itself been base64-encoded
// (its decoded form starts with "-----BEGIN", whose base64 prefix is
// "LS0t") and returns the decoded PEM text. Data that is already PEM is
// returned unchanged.
func unwrapBase64PEM(data string) string {
	trimmed := strings.TrimSpace(data)
	if strings.HasPrefix(trimmed, "LS0t") {
		if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
			return string(decoded)
		}
	}
	return data
}

type claims struct {
	jwt.RegisteredClaims
	Scope     []string `json:"scope,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	Dept      string   `json:"dept,omitempty"`
	RiskScore int      `json:"riskScore,omitempty"`
}

func (m *Manager) signingMethod() jwt.SigningMethod {
	if m.algorithm == token.RS256 {
		return jwt.SigningMethodRS256
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signingKey() any {
	if m.algorithm == token.RS256 {
		return m.privateKey
	}
	return m.secret
}

func (m *Manager) verifyKey() any {
	if m.algorithm == token.RS256 {
		return m.publicKey
	}
	return m.secret
}

// Issue implements token.Manager.
func (m *Manager) Issue(ctx context.Context, payload token.Payload, ttlMinutes int) (string, error) {
	if ttlMinutes == 0 {
		ttlMinutes = m.defaultTTLMin
	}
	now := time.Now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Subject,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
		},
		Scope:     payload.Scope,
		Groups:    payload.Groups,
		Dept:      payload.Dept,
		RiskScore: payload.RiskScore,
	}

	tok := jwt.NewWithClaims(m.signingMethod(), c)
	signed, err := tok.SignedString(m.signingKey())
	if err != nil {
		m.logger.Error("failed to sign jwt", "error", err, "subject", payload.Subject)
		return "", fmt.Errorf("jwtauth: sign token: %w", err)
	}
	m.logger.Info("jwt token issued", "subject", payload.Subject, "algorithm", m.algorithm, "expires_at", c.ExpiresAt.Time)
	return signed, nil
}

// Verify implements token.Manager.
func (m *Manager) Verify(ctx context.Context, tokenString string) (token.Claims, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if t.Method != m.signingMethod() {
			return nil, fmt.Errorf("unexpected signing method %v", t.Method.Alg())
		}
		return m.verifyKey(), nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{m.signingMethod().Alg()}),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			m.logger.Warn("jwt token expired", "algorithm", m.algorithm)
			return token.Claims{}, token.ErrTokenExpired
		}
		m.logger.Warn("invalid jwt token", "error", err, "algorithm", m.algorithm)
		return token.Claims{}, token.ErrTokenInvalid
	}
	if !parsed.Valid {
		return token.Claims{}, token.ErrTokenInvalid
	}

	return token.Claims{
		Subject:   c.Subject,
		Scope:     c.Scope,
		Groups:    c.Groups,
		Dept:      c.Dept,
		RiskScore: c.RiskScore,
		Issuer:    c.Issuer,
		Audience:  audienceOf(c.Audience),
		IssuedAt:  timeOf(c.IssuedAt),
		ExpiresAt: timeOf(c.ExpiresAt),
	}, nil
}

// Refresh implements token.Manager.
func (m *Manager) Refresh(ctx context.Context, tokenString string, ttlMinutes int) (string, error) {
	claims, err := m.Verify(ctx, tokenString)
	if err != nil {
		m.logger.Warn("cannot refresh invalid token", "error", err)
		return "", err
	}
	return m.Issue(ctx, token.Payload{
		Subject:   claims.Subject,
		Scope:     claims.Scope,
		Groups:    claims.Groups,
		Dept:      claims.Dept,
		RiskScore: claims.RiskScore,
	}, ttlMinutes)
}

// DecodeWithoutVerification implements token.Manager.
func (m *Manager) DecodeWithoutVerification(tokenString string) (token.Claims, error) {
	var c claims
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(tokenString, &c)
	if err != nil {
		return token.Claims{}, fmt.Errorf("jwtauth: cannot decode token: %w", err)
	}
	return token.Claims{
		Subject:   c.Subject,
		Scope:     c.Scope,
		Groups:    c.Groups,
		Dept:      c.Dept,
		RiskScore: c.RiskScore,
		Issuer:    c.Issuer,
		Audience:  audienceOf(c.Audience),
		IssuedAt:  timeOf(c.IssuedAt),
		ExpiresAt: timeOf(c.ExpiresAt),
	}, nil
}

// PublicKeyPEM implements token.Manager. Only RS256 managers export a key;
// HS256 has no public key to share.
func (m *Manager) PublicKeyPEM() (string, error) {
	if m.algorithm != token.RS256 || m.publicKey == nil {
		return "", errors.New("jwtauth: public key export is only available for RS256")
	}
	der, err := x509.MarshalPKIXPublicKey(m.publicKey)
	if err != nil {
		return "", fmt.Errorf("jwtauth: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func audienceOf(aud jwt.ClaimStrings) string {
	if len(aud) == 0 {
		return ""
	}
	return aud[0]
}

func timeOf(nd *jwt.NumericDate) time.Time {
	if nd == nil {
		return time.Time{}
	}
	return nd.Time
}
