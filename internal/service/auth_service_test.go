package service

import (
	"context"
	"errors"
	"testing"

	"github.com/identitygate/identitygate/internal/domain/credential"
	"github.com/identitygate/identitygate/internal/domain/identity"
	"github.com/identitygate/identitygate/internal/domain/token"
)

type fakeCredentialStore struct {
	clientRecord credential.Record
	clientErr    error
	userRecord   credential.Record
	userErr      error
}

func (f *fakeCredentialStore) ValidateClient(ctx context.Context, clientID, clientSecret string) (credential.Record, error) {
	return f.clientRecord, f.clientErr
}

func (f *fakeCredentialStore) ValidateUser(ctx context.Context, username, password string) (credential.Record, error) {
	return f.userRecord, f.userErr
}

type fakeUserLookup struct {
	user identity.User
	err  error
}

func (f *fakeUserLookup) LookupUserByName(ctx context.Context, userName string) (identity.User, error) {
	return f.user, f.err
}

type fakeTokenManager struct {
	issued token.Payload
}

func (f *fakeTokenManager) Issue(ctx context.Context, payload token.Payload, ttlMinutes int) (string, error) {
	f.issued = payload
	return "signed-token-for-" + payload.Subject, nil
}
func (f *fakeTokenManager) Verify(ctx context.Context, tokenString string) (token.Claims, error) {
	return token.Claims{Subject: "alice", Scope: []string{"read"}}, nil
}
func (f *fakeTokenManager) Refresh(ctx context.Context, tokenString string, ttlMinutes int) (string, error) {
	return "", nil
}
func (f *fakeTokenManager) DecodeWithoutVerification(tokenString string) (token.Claims, error) {
	return token.Claims{}, nil
}
func (f *fakeTokenManager) PublicKeyPEM() (string, error) { return "", nil }

func TestAuthService_ClientCredentials_Success(t *testing.T) {
	t.Parallel()

	creds := &fakeCredentialStore{
		clientRecord: credential.Record{
			Attributes:   credential.Attributes{Subject: "test_client", Dept: "IT", Groups: []string{"API_CLIENTS"}, RiskScore: 10},
			AllowedScope: []string{"read", "write"},
		},
	}
	tokens := &fakeTokenManager{}
	svc := NewAuthService(creds, nil, tokens, 60, nil)

	resp, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "test_client",
		ClientSecret: "test_secret",
		Scope:        "read write admin",
	})
	if err != nil {
		t.Fatalf("AuthenticateAndIssue() error: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want %q", resp.TokenType, "Bearer")
	}
	if resp.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "read write")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}
	if tokens.issued.Subject != "test_client" {
		t.Errorf("issued subject = %q, want %q", tokens.issued.Subject, "test_client")
	}
}

func TestAuthService_ClientCredentials_InvalidSecret(t *testing.T) {
	t.Parallel()

	creds := &fakeCredentialStore{clientErr: credential.ErrInvalidCredentials}
	svc := NewAuthService(creds, nil, &fakeTokenManager{}, 60, nil)

	_, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{
		GrantType:    GrantClientCredentials,
		ClientID:     "test_client",
		ClientSecret: "wrong",
	})
	if !errors.Is(err, credential.ErrInvalidCredentials) {
		t.Fatalf("error = %v, want %v", err, credential.ErrInvalidCredentials)
	}
}

func TestAuthService_PasswordGrant_ScopeDefaultsWhenIntersectionEmpty(t *testing.T) {
	t.Parallel()

	creds := &fakeCredentialStore{
		userRecord: credential.Record{
			Attributes:   credential.Attributes{Subject: "jdoe", Dept: "HR"},
			AllowedScope: []string{"read", "write"},
		},
	}
	svc := NewAuthService(creds, nil, &fakeTokenManager{}, 60, nil)

	resp, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{
		GrantType: GrantPassword,
		Username:  "jdoe",
		Password:  "password123",
		Scope:     "admin:all",
	})
	if err != nil {
		t.Fatalf("AuthenticateAndIssue() error: %v", err)
	}
	if resp.Scope != "read" {
		t.Errorf("Scope = %q, want default %q", resp.Scope, "read")
	}
}

func TestAuthService_PasswordGrant_InactiveUserFails(t *testing.T) {
	t.Parallel()

	creds := &fakeCredentialStore{
		userRecord: credential.Record{
			Attributes:   credential.Attributes{Subject: "jdoe"},
			AllowedScope: []string{"read"},
		},
	}
	users := &fakeUserLookup{user: identity.User{UserName: "jdoe", Active: false}}
	svc := NewAuthService(creds, users, &fakeTokenManager{}, 60, nil)

	_, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{
		GrantType: GrantPassword,
		Username:  "jdoe",
		Password:  "password123",
	})
	if !errors.Is(err, ErrUserInactive) {
		t.Fatalf("error = %v, want %v", err, ErrUserInactive)
	}
}

func TestAuthService_PasswordGrant_SCIMLookupFailureDoesNotFailClosed(t *testing.T) {
	t.Parallel()

	creds := &fakeCredentialStore{
		userRecord: credential.Record{
			Attributes:   credential.Attributes{Subject: "jdoe"},
			AllowedScope: []string{"read"},
		},
	}
	users := &fakeUserLookup{err: errors.New("scim store unreachable")}
	svc := NewAuthService(creds, users, &fakeTokenManager{}, 60, nil)

	_, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{
		GrantType: GrantPassword,
		Username:  "jdoe",
		Password:  "password123",
	})
	if err != nil {
		t.Fatalf("AuthenticateAndIssue() error: %v, want nil (SCIM lookup failures must not fail closed)", err)
	}
}

func TestAuthService_UnsupportedGrantType(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(&fakeCredentialStore{}, nil, &fakeTokenManager{}, 60, nil)

	_, err := svc.AuthenticateAndIssue(context.Background(), TokenRequest{GrantType: "implicit"})
	if !errors.Is(err, ErrUnsupportedGrantType) {
		t.Fatalf("error = %v, want %v", err, ErrUnsupportedGrantType)
	}
}

func TestAuthService_ValidateTokenAndGetClaims(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(&fakeCredentialStore{}, nil, &fakeTokenManager{}, 60, nil)

	claims, err := svc.ValidateTokenAndGetClaims(context.Background(), "some-token")
	if err != nil {
		t.Fatalf("ValidateTokenAndGetClaims() error: %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if claims.Scope != "read" {
		t.Errorf("Scope = %q, want %q", claims.Scope, "read")
	}
}
