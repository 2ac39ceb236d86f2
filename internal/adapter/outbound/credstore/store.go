// Package credstore implements credential.Store as a static, in-process
// table of client_credentials and password-grant records, with secrets
// hashed at construction time using Argon2id.
package credstore

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/identitygate/identitygate/internal/domain/credential"
)

// argon2idParams mirrors the OWASP-minimum parameters used elsewhere in
// the pack for secret hashing.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// ClientEntry is one row of the static client_credentials table, as
// supplied at construction time before its secret is hashed.
type ClientEntry struct {
	ClientID     string
	ClientSecret string
	Attributes   credential.Attributes
	AllowedScope []string
}

// UserEntry is one row of the static password-grant table.
type UserEntry struct {
	Username     string
	Password     string
	Attributes   credential.Attributes
	AllowedScope []string
}

type hashedRecord struct {
	hash   string
	record credential.Record
}

var _ credential.Store = (*Store)(nil)

// Store is the static, Argon2id-hashed credential table.
type Store struct {
	clients map[string]hashedRecord
	users   map[string]hashedRecord
}

// New hashes every configured secret/password and returns a ready Store.
// Construction fails if any secret cannot be hashed.
func New(clients []ClientEntry, users []UserEntry) (*Store, error) {
	s := &Store{
		clients: make(map[string]hashedRecord, len(clients)),
		users:   make(map[string]hashedRecord, len(users)),
	}
	for _, c := range clients {
		hash, err := argon2id.CreateHash(c.ClientSecret, argon2idParams)
		if err != nil {
			return nil, fmt.Errorf("credstore: hash client secret for %q: %w", c.ClientID, err)
		}
		s.clients[c.ClientID] = hashedRecord{
			hash: hash,
			record: credential.Record{
				Attributes:   c.Attributes,
				AllowedScope: c.AllowedScope,
			},
		}
	}
	for _, u := range users {
		hash, err := argon2id.CreateHash(u.Password, argon2idParams)
		if err != nil {
			return nil, fmt.Errorf("credstore: hash password for %q: %w", u.Username, err)
		}
		s.users[u.Username] = hashedRecord{
			hash: hash,
			record: credential.Record{
				Attributes:   u.Attributes,
				AllowedScope: u.AllowedScope,
			},
		}
	}
	return s, nil
}

// ValidateClient implements credential.Store.
func (s *Store) ValidateClient(ctx context.Context, clientID, clientSecret string) (credential.Record, error) {
	entry, ok := s.clients[clientID]
	if !ok {
		return credential.Record{}, credential.ErrInvalidCredentials
	}
	match, err := safeCompare(clientSecret, entry.hash)
	if err != nil || !match {
		return credential.Record{}, credential.ErrInvalidCredentials
	}
	return entry.record, nil
}

// ValidateUser implements credential.Store.
func (s *Store) ValidateUser(ctx context.Context, username, password string) (credential.Record, error) {
	entry, ok := s.users[username]
	if !ok {
		return credential.Record{}, credential.ErrInvalidCredentials
	}
	match, err := safeCompare(password, entry.hash)
	if err != nil || !match {
		return credential.Record{}, credential.ErrInvalidCredentials
	}
	return entry.record, nil
}

// safeCompare wraps argon2id.ComparePasswordAndHash with panic recovery:
// the underlying library panics on a malformed hash, which should never
// happen here since every hash is produced by CreateHash at construction,
// but a corrupt in-memory record must still fail closed, not crash.
func safeCompare(secret, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("credstore: invalid hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(secret, hash)
}
