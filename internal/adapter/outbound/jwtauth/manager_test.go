package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/identitygate/identitygate/internal/domain/token"
)

func testHS256Config() Config {
	return Config{
		Algorithm:     token.HS256,
		Secret:        "unit-test-secret-unit-test-secret",
		Issuer:        "identitygate",
		Audience:      "identitygate-clients",
		DefaultTTLMin: 60,
		Environment:   "test",
	}
}

func TestManager_HS256_IssueAndVerify(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "alice", Scope: []string{"read", "write"}, Groups: []string{"eng"}}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if tok == "" {
		t.Fatal("Issue() returned empty token")
	}

	claims, err := m.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if len(claims.Scope) != 2 || claims.Scope[0] != "read" {
		t.Errorf("Scope = %v, want [read write]", claims.Scope)
	}
	if claims.Issuer != "identitygate" {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, "identitygate")
	}
	if claims.Audience != "identitygate-clients" {
		t.Errorf("Audience = %q, want %q", claims.Audience, "identitygate-clients")
	}
}

func TestManager_HS256_RejectsTamperedSignature(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "bob"}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	tampered := tok[:len(tok)-4] + "abcd"
	if _, err := m.Verify(ctx, tampered); err == nil {
		t.Fatal("Verify() accepted a tampered token")
	}
}

func TestManager_HS256_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	// A negative TTL produces an exp in the past.
	tok, err := m.Issue(ctx, token.Payload{Subject: "carol"}, -5)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	_, err = m.Verify(ctx, tok)
	if err != token.ErrTokenExpired {
		t.Fatalf("Verify() error = %v, want %v", err, token.ErrTokenExpired)
	}
}

func TestManager_HS256_RejectsWrongAudience(t *testing.T) {
	t.Parallel()

	cfg := testHS256Config()
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	other := cfg
	other.Audience = "other-clients"
	m2, err := New(other, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m2.Issue(ctx, token.Payload{Subject: "dave"}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := m.Verify(ctx, tok); err != token.ErrTokenInvalid {
		t.Fatalf("Verify() error = %v, want %v", err, token.ErrTokenInvalid)
	}
}

func TestManager_HS256_RejectsEmptySecret(t *testing.T) {
	t.Parallel()

	cfg := testHS256Config()
	cfg.Secret = ""
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() accepted an empty HS256 secret")
	}
}

func TestManager_HS256_RejectsShortSecretInProduction(t *testing.T) {
	t.Parallel()

	cfg := testHS256Config()
	cfg.Secret = "too-short"
	cfg.Environment = "production"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() accepted a short HS256 secret in production")
	}
}

func TestManager_RS256_GeneratesDevelopmentKeys(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Algorithm:     token.RS256,
		Issuer:        "identitygate",
		Audience:      "identitygate-clients",
		DefaultTTLMin: 60,
		Environment:   "development",
	}
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "erin"}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	claims, err := m.Verify(ctx, tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "erin" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "erin")
	}

	pem, err := m.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM() error: %v", err)
	}
	if !strings.Contains(pem, "PUBLIC KEY") {
		t.Errorf("PublicKeyPEM() = %q, missing PEM header", pem)
	}
}

func TestManager_RS256_RequiresKeysInProduction(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Algorithm:   token.RS256,
		Environment: "production",
	}
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() accepted RS256 in production with no key material")
	}
}

func TestManager_RS256_LoadsKeysFromPEM(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error: %v", err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey() error: %v", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))

	cfg := Config{
		Algorithm:     token.RS256,
		PrivateKeyPEM: privPEM,
		PublicKeyPEM:  pubPEM,
		Issuer:        "identitygate",
		Audience:      "identitygate-clients",
		DefaultTTLMin: 60,
		Environment:   "production",
	}
	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "frank"}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := m.Verify(ctx, tok); err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
}

func TestManager_Refresh(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "grace", Scope: []string{"read"}}, 1)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	refreshed, err := m.Refresh(ctx, tok, 30)
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if refreshed == tok {
		t.Error("Refresh() returned the same token string")
	}

	claims, err := m.Verify(ctx, refreshed)
	if err != nil {
		t.Fatalf("Verify() on refreshed token error: %v", err)
	}
	if claims.Subject != "grace" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "grace")
	}
}

func TestManager_Refresh_RejectsInvalidToken(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := m.Refresh(context.Background(), "not-a-real-token", 0); err == nil {
		t.Fatal("Refresh() accepted an invalid token")
	}
}

func TestManager_DecodeWithoutVerification(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	tok, err := m.Issue(ctx, token.Payload{Subject: "heidi", Dept: "finance"}, 0)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims, err := m.DecodeWithoutVerification(tok)
	if err != nil {
		t.Fatalf("DecodeWithoutVerification() error: %v", err)
	}
	if claims.Subject != "heidi" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "heidi")
	}
	if claims.Dept != "finance" {
		t.Errorf("Dept = %q, want %q", claims.Dept, "finance")
	}
}

func TestManager_PublicKeyPEM_UnavailableForHS256(t *testing.T) {
	t.Parallel()

	m, err := New(testHS256Config(), nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := m.PublicKeyPEM(); err == nil {
		t.Fatal("PublicKeyPEM() succeeded for an HS256 manager")
	}
}
