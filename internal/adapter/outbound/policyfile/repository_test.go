package policyfile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/identitygate/identitygate/internal/domain/abac"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

const validPolicyDoc = `{
	"version": "1",
	"description": "test policies",
	"policies": [
		{
			"ruleId": "allow-finance-read",
			"effect": "Permit",
			"description": "finance dept can read",
			"priority": 10,
			"conditions": {"subject.dept": {"eq": "finance"}}
		}
	]
}`

func writePolicyFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestNew_LoadsValidFile(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	policies, err := repo.GetAllPolicies(context.Background())
	if err != nil {
		t.Fatalf("GetAllPolicies() error: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("len(policies) = %d, want 1", len(policies))
	}
	if policies[0].RuleID != "allow-finance-read" {
		t.Errorf("RuleID = %q, want %q", policies[0].RuleID, "allow-finance-read")
	}
}

func TestNew_MissingFileBootsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.json")
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	policies, err := repo.GetAllPolicies(context.Background())
	if err != nil {
		t.Fatalf("GetAllPolicies() error: %v", err)
	}
	if len(policies) != 0 {
		t.Errorf("len(policies) = %d, want 0", len(policies))
	}
}

func TestNew_MalformedFileIsFatal(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, `{not json`)
	if _, err := New(path, discardLogger()); err == nil {
		t.Fatal("New() expected error for malformed policy file, got nil")
	}
}

func TestGetPolicyByID(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	policy, found, err := repo.GetPolicyByID(context.Background(), "allow-finance-read")
	if err != nil {
		t.Fatalf("GetPolicyByID() error: %v", err)
	}
	if !found {
		t.Fatal("GetPolicyByID() found = false, want true")
	}
	if policy.Effect != abac.Permit {
		t.Errorf("Effect = %v, want %v", policy.Effect, abac.Permit)
	}

	_, found, err = repo.GetPolicyByID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetPolicyByID() error: %v", err)
	}
	if found {
		t.Error("GetPolicyByID() found = true for nonexistent rule, want false")
	}
}

func TestGetPoliciesByEffect(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	permits, err := repo.GetPoliciesByEffect(context.Background(), abac.Permit)
	if err != nil {
		t.Fatalf("GetPoliciesByEffect(Permit) error: %v", err)
	}
	if len(permits) != 1 {
		t.Errorf("len(permits) = %d, want 1", len(permits))
	}

	denies, err := repo.GetPoliciesByEffect(context.Background(), abac.Deny)
	if err != nil {
		t.Fatalf("GetPoliciesByEffect(Deny) error: %v", err)
	}
	if len(denies) != 0 {
		t.Errorf("len(denies) = %d, want 0", len(denies))
	}
}

func TestHotReload_PicksUpChangeOnNewerMTime(t *testing.T) {
	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	updated := `{
		"version": "2",
		"policies": [
			{"ruleId": "a", "effect": "Permit", "description": "a", "conditions": {"subject.dept": {"eq": "x"}}},
			{"ruleId": "b", "effect": "Deny", "description": "b", "conditions": {"subject.dept": {"eq": "y"}}}
		]
	}`
	// Ensure the new mtime is observably later than the original write.
	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	policies, err := repo.GetAllPolicies(context.Background())
	if err != nil {
		t.Fatalf("GetAllPolicies() error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("len(policies) after reload = %d, want 2", len(policies))
	}
}

func TestHotReload_InvalidUpdateRetainsPreviousSet(t *testing.T) {
	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.WriteFile(path, []byte(`{not json`), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes() error: %v", err)
	}

	policies, err := repo.GetAllPolicies(context.Background())
	if err != nil {
		t.Fatalf("GetAllPolicies() error: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("len(policies) after failed reload = %d, want 1 (retained)", len(policies))
	}
}

func TestReloadPolicies_ReturnsValidationResult(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	result, err := repo.ReloadPolicies(context.Background())
	if err != nil {
		t.Fatalf("ReloadPolicies() error: %v", err)
	}
	if !result.Valid {
		t.Errorf("ReloadPolicies() Valid = false, want true")
	}
	if result.PoliciesCount != 1 {
		t.Errorf("PoliciesCount = %d, want 1", result.PoliciesCount)
	}
}

func TestMetadata(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	meta := repo.Metadata(context.Background())
	if meta.Count != 1 {
		t.Errorf("Count = %d, want 1", meta.Count)
	}
	if meta.FilePath != path {
		t.Errorf("FilePath = %q, want %q", meta.FilePath, path)
	}
	if meta.LastModified == "" {
		t.Error("LastModified is empty, want a formatted timestamp")
	}
}

func TestValidateCurrentPolicies_MissingFileReturnsCurrentCount(t *testing.T) {
	t.Parallel()

	path := writePolicyFile(t, validPolicyDoc)
	repo, err := New(path, discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}

	result := repo.ValidateCurrentPolicies(context.Background())
	if !result.Valid {
		t.Error("ValidateCurrentPolicies() Valid = false, want true when file has since disappeared")
	}
	if result.PoliciesCount != 1 {
		t.Errorf("PoliciesCount = %d, want 1", result.PoliciesCount)
	}
}
