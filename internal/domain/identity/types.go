// Package identity contains the domain contract for the SCIM boundary: the
// two read operations the authorization and authentication paths depend on
// (LookupUserByName, ValidateGroupExists), plus the minimal user/group
// shapes and the create/get/list operations behind the SCIM HTTP routes.
// There are no update or delete operations.
package identity

import (
	"context"
	"errors"
)

// Sentinel errors for the SCIM boundary, per the stable error-kind
// taxonomy: NotFound, AlreadyExists, and ReferentialIntegrity are relevant
// only here, since the core treats a SCIM lookup failure as "unknown", not
// as a fatal condition.
var (
	ErrNotFound            = errors.New("identity: not found")
	ErrAlreadyExists        = errors.New("identity: already exists")
	ErrReferentialIntegrity = errors.New("identity: referential integrity violation")
)

// User is the minimal SCIM user record the core and the SCIM surface both
// need: enough to answer "does this user exist, and are they active".
type User struct {
	ID          string
	UserName    string
	Active      bool
	DisplayName string
	Dept        string
	Groups      []string
}

// Group is the minimal SCIM group record backing ValidateGroupExists.
type Group struct {
	ID          string
	DisplayName string
	Members     []string
}

// UserLookup is the read contract the Auth Service's non-fatal "is this
// user active" check depends on.
type UserLookup interface {
	// LookupUserByName returns the user with the given userName. A miss
	// returns ErrNotFound; callers on the authentication path must treat
	// any error from this call as "status unknown" and proceed rather than
	// fail closed.
	LookupUserByName(ctx context.Context, userName string) (User, error)
}

// GroupLookup is the read contract a policy condition referencing group
// membership, or an admin-gated route, depends on.
type GroupLookup interface {
	// ValidateGroupExists reports whether a group with the given display
	// name is known to the store.
	ValidateGroupExists(ctx context.Context, displayName string) (bool, error)
}

// Store is the full SCIM-backing contract: the two read operations the
// core depends on, plus the minimal create/list surface the SCIM HTTP
// routes expose. Implementations must treat userName and group
// displayName as unique.
type Store interface {
	UserLookup
	GroupLookup

	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, userNameFilter string) ([]User, error)

	CreateGroup(ctx context.Context, g Group) (Group, error)
	ListGroups(ctx context.Context) ([]Group, error)
}
