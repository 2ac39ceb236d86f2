// Package scimstore implements identity.Store backed by a SQLite database
// on disk, exercised through database/sql and the pure-Go
// modernc.org/sqlite driver.
package scimstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/identitygate/identitygate/internal/domain/identity"
)

const schema = `
CREATE TABLE IF NOT EXISTS scim_users (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL UNIQUE,
	active INTEGER NOT NULL DEFAULT 1,
	display_name TEXT NOT NULL DEFAULT '',
	dept TEXT NOT NULL DEFAULT '',
	groups_json TEXT NOT NULL DEFAULT '[]'
);
CREATE TABLE IF NOT EXISTS scim_groups (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL UNIQUE,
	members_json TEXT NOT NULL DEFAULT '[]'
);
`

var _ identity.Store = (*Store)(nil)

// Store is the SQLite-backed identity.Store implementation.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scimstore: open database: %w", err)
	}
	// SQLite has no concurrent-writer story; a single connection keeps
	// every statement serialized against the same backing file handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scimstore: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LookupUserByName implements identity.UserLookup.
func (s *Store) LookupUserByName(ctx context.Context, userName string) (identity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_name, active, display_name, dept, groups_json FROM scim_users WHERE user_name = ?`,
		userName)
	return scanUser(row)
}

// ValidateGroupExists implements identity.GroupLookup.
func (s *Store) ValidateGroupExists(ctx context.Context, displayName string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM scim_groups WHERE display_name = ?`, displayName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("scimstore: validate group exists: %w", err)
	}
	return count > 0, nil
}

// CreateUser implements identity.Store. u.ID is generated by the caller;
// a duplicate userName yields identity.ErrAlreadyExists.
func (s *Store) CreateUser(ctx context.Context, u identity.User) (identity.User, error) {
	groupsJSON, err := json.Marshal(u.Groups)
	if err != nil {
		return identity.User{}, fmt.Errorf("scimstore: marshal groups: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scim_users (id, user_name, active, display_name, dept, groups_json) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.UserName, boolToInt(u.Active), u.DisplayName, u.Dept, string(groupsJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return identity.User{}, identity.ErrAlreadyExists
		}
		return identity.User{}, fmt.Errorf("scimstore: create user: %w", err)
	}
	return u, nil
}

// GetUser implements identity.Store.
func (s *Store) GetUser(ctx context.Context, id string) (identity.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_name, active, display_name, dept, groups_json FROM scim_users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUsers implements identity.Store. userNameFilter, when non-empty,
// restricts results to an exact userName match — the only SCIM filter
// shape this store supports; anything richer is rejected at the HTTP
// layer before reaching here.
func (s *Store) ListUsers(ctx context.Context, userNameFilter string) ([]identity.User, error) {
	query := `SELECT id, user_name, active, display_name, dept, groups_json FROM scim_users`
	args := []any{}
	if userNameFilter != "" {
		query += ` WHERE user_name = ?`
		args = append(args, userNameFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scimstore: list users: %w", err)
	}
	defer rows.Close()

	var out []identity.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateGroup implements identity.Store.
func (s *Store) CreateGroup(ctx context.Context, g identity.Group) (identity.Group, error) {
	membersJSON, err := json.Marshal(g.Members)
	if err != nil {
		return identity.Group{}, fmt.Errorf("scimstore: marshal members: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scim_groups (id, display_name, members_json) VALUES (?, ?, ?)`,
		g.ID, g.DisplayName, string(membersJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return identity.Group{}, identity.ErrAlreadyExists
		}
		return identity.Group{}, fmt.Errorf("scimstore: create group: %w", err)
	}
	return g, nil
}

// ListGroups implements identity.Store.
func (s *Store) ListGroups(ctx context.Context) ([]identity.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, display_name, members_json FROM scim_groups`)
	if err != nil {
		return nil, fmt.Errorf("scimstore: list groups: %w", err)
	}
	defer rows.Close()

	var out []identity.Group
	for rows.Next() {
		var g identity.Group
		var membersJSON string
		if err := rows.Scan(&g.ID, &g.DisplayName, &membersJSON); err != nil {
			return nil, fmt.Errorf("scimstore: scan group: %w", err)
		}
		if err := json.Unmarshal([]byte(membersJSON), &g.Members); err != nil {
			return nil, fmt.Errorf("scimstore: unmarshal members: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (identity.User, error) {
	return scanUserRow(row)
}

func scanUserRow(row scanner) (identity.User, error) {
	var u identity.User
	var active int
	var groupsJSON string
	err := row.Scan(&u.ID, &u.UserName, &active, &u.DisplayName, &u.Dept, &groupsJSON)
	if err == sql.ErrNoRows {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("scimstore: scan user: %w", err)
	}
	u.Active = active != 0
	if err := json.Unmarshal([]byte(groupsJSON), &u.Groups); err != nil {
		return identity.User{}, fmt.Errorf("scimstore: unmarshal groups: %w", err)
	}
	return u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognizes SQLite's unique-constraint error text; the
// driver surfaces it as a plain error string rather than a typed error.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
