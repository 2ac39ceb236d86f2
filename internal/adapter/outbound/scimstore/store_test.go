package scimstore

import (
	"context"
	"errors"
	"testing"

	"github.com/identitygate/identitygate/internal/domain/identity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CreateAndLookupUser(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	u := identity.User{ID: "u1", UserName: "jdoe", Active: true, DisplayName: "Jane Doe", Dept: "HR", Groups: []string{"HR_READERS"}}
	if _, err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	got, err := s.LookupUserByName(ctx, "jdoe")
	if err != nil {
		t.Fatalf("LookupUserByName() error: %v", err)
	}
	if got.ID != "u1" || got.Dept != "HR" || len(got.Groups) != 1 || got.Groups[0] != "HR_READERS" {
		t.Errorf("LookupUserByName() = %+v, unexpected", got)
	}
}

func TestStore_LookupUserByName_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.LookupUserByName(context.Background(), "nobody")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, identity.ErrNotFound)
	}
}

func TestStore_CreateUser_DuplicateUserName(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	u := identity.User{ID: "u1", UserName: "jdoe", Active: true}
	if _, err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	dup := identity.User{ID: "u2", UserName: "jdoe", Active: true}
	if _, err := s.CreateUser(ctx, dup); !errors.Is(err, identity.ErrAlreadyExists) {
		t.Fatalf("error = %v, want %v", err, identity.ErrAlreadyExists)
	}
}

func TestStore_InactiveUser(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	u := identity.User{ID: "u1", UserName: "former", Active: false}
	if _, err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	got, err := s.LookupUserByName(ctx, "former")
	if err != nil {
		t.Fatalf("LookupUserByName() error: %v", err)
	}
	if got.Active {
		t.Error("Active = true, want false")
	}
}

func TestStore_ListUsers_FilterAndAll(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, u := range []identity.User{
		{ID: "u1", UserName: "jdoe", Active: true},
		{ID: "u2", UserName: "agonzalez", Active: true},
	} {
		if _, err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error: %v", err)
		}
	}

	all, err := s.ListUsers(ctx, "")
	if err != nil {
		t.Fatalf("ListUsers() error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListUsers() returned %d users, want 2", len(all))
	}

	filtered, err := s.ListUsers(ctx, "jdoe")
	if err != nil {
		t.Fatalf("ListUsers(filter) error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].UserName != "jdoe" {
		t.Fatalf("ListUsers(filter) = %+v, want exactly jdoe", filtered)
	}
}

func TestStore_CreateAndValidateGroup(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	g := identity.Group{ID: "g1", DisplayName: "ADMINS", Members: []string{"mrios"}}
	if _, err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup() error: %v", err)
	}

	exists, err := s.ValidateGroupExists(ctx, "ADMINS")
	if err != nil {
		t.Fatalf("ValidateGroupExists() error: %v", err)
	}
	if !exists {
		t.Error("ValidateGroupExists() = false, want true")
	}

	missing, err := s.ValidateGroupExists(ctx, "NOPE")
	if err != nil {
		t.Fatalf("ValidateGroupExists() error: %v", err)
	}
	if missing {
		t.Error("ValidateGroupExists() = true for unknown group, want false")
	}
}

func TestStore_ListGroups(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for _, g := range []identity.Group{
		{ID: "g1", DisplayName: "ADMINS", Members: []string{"mrios"}},
		{ID: "g2", DisplayName: "HR_READERS", Members: []string{"jdoe"}},
	} {
		if _, err := s.CreateGroup(ctx, g); err != nil {
			t.Fatalf("CreateGroup() error: %v", err)
		}
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups() error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("ListGroups() returned %d groups, want 2", len(groups))
	}
}
