// Package policyfile implements abac.Repository backed by a JSON file on
// disk, hot-reloaded by comparing the file's mtime against the mtime
// observed at the last successful load.
package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/identitygate/identitygate/internal/domain/abac"
)

// snapshot is the atomically-swapped, fully-constructed view of the current
// policy set. Readers load it lock-free via atomic.Value; the only writer
// is Reload, serialized by mu.
type snapshot struct {
	set      *abac.PolicySet
	fileMTime time.Time
}

var _ abac.Repository = (*Repository)(nil)

// Repository is the file-backed abac.Repository implementation.
type Repository struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex // serializes reload attempts
	snap     atomic.Value
}

// New constructs a Repository and performs the initial load. A missing file
// is not fatal: the repository boots with an empty PolicySet and logs a
// warning, per the "file missing is not fatal" error-handling rule.
func New(path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{path: path, logger: logger}

	mtime, body, err := readFile(path)
	if err != nil {
		logger.Warn("policies file not found, booting with empty policy set", "path", path)
		r.snap.Store(&snapshot{set: &abac.PolicySet{Policies: nil}})
		return r, nil
	}

	set, result := abac.ParseAndValidate(body)
	if !result.Valid {
		return nil, fmt.Errorf("initial policy load failed: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		logger.Warn("policy validation warnings", "warnings", result.Warnings)
	}
	r.snap.Store(&snapshot{set: set, fileMTime: mtime})
	logger.Info("policy repository initialized", "path", path, "policies_count", len(set.Policies))
	return r, nil
}

func readFile(path string) (time.Time, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, nil, err
	}
	// Read mtime before reading the file body, so a writer that is slower
	// than our polling interval can't make us believe we've already seen
	// its update.
	mtime := info.ModTime()
	body, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, nil, err
	}
	return mtime, body, nil
}

func (r *Repository) current() *snapshot {
	return r.snap.Load().(*snapshot)
}

// maybeReload checks the backing file's mtime and reloads if it is strictly
// newer than the mtime observed at the last successful load. Reload
// failures retain the current set and log a warning rather than
// propagating, per the hot-reload failure-isolation contract.
func (r *Repository) maybeReload(ctx context.Context) {
	info, err := os.Stat(r.path)
	if err != nil {
		// Missing file mid-life is not itself a reload trigger.
		return
	}
	if !info.ModTime().After(r.current().fileMTime) {
		return
	}
	if _, err := r.reloadLocked(ctx); err != nil {
		r.logger.Warn("hot-reload failed, retaining previous policy set", "error", err)
	}
}

// reloadLocked performs the actual read-validate-swap sequence under mu.
// The new fileMTime is captured only after a successful parse, and the
// snapshot swap happens before any cache invalidation the caller performs,
// so concurrent readers never observe new policies paired with stale
// cached decisions.
func (r *Repository) reloadLocked(ctx context.Context) (abac.ValidationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mtime, body, err := readFile(r.path)
	if err != nil {
		return abac.ValidationResult{Valid: false, Errors: []string{err.Error()}}, err
	}

	set, result := abac.ParseAndValidate(body)
	if !result.Valid {
		return result, fmt.Errorf("policy validation failed: %v", result.Errors)
	}
	if len(result.Warnings) > 0 {
		r.logger.Warn("policy validation warnings", "warnings", result.Warnings)
	}

	r.snap.Store(&snapshot{set: set, fileMTime: mtime})
	r.logger.Info("policies reloaded", "policies_count", len(set.Policies))
	return result, nil
}

// GetAllPolicies implements abac.Repository.
func (r *Repository) GetAllPolicies(ctx context.Context) ([]abac.Policy, error) {
	r.maybeReload(ctx)
	set := r.current().set
	out := make([]abac.Policy, len(set.Policies))
	copy(out, set.Policies)
	return out, nil
}

// GetPolicyByID implements abac.Repository.
func (r *Repository) GetPolicyByID(ctx context.Context, ruleID string) (abac.Policy, bool, error) {
	policies, err := r.GetAllPolicies(ctx)
	if err != nil {
		return abac.Policy{}, false, err
	}
	for _, p := range policies {
		if p.RuleID == ruleID {
			return p, true, nil
		}
	}
	return abac.Policy{}, false, nil
}

// GetPoliciesByEffect implements abac.Repository.
func (r *Repository) GetPoliciesByEffect(ctx context.Context, effect abac.Effect) ([]abac.Policy, error) {
	policies, err := r.GetAllPolicies(ctx)
	if err != nil {
		return nil, err
	}
	filtered := make([]abac.Policy, 0, len(policies))
	for _, p := range policies {
		if p.Effect == effect {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// ReloadPolicies implements abac.Repository.
func (r *Repository) ReloadPolicies(ctx context.Context) (abac.ValidationResult, error) {
	result, err := r.reloadLocked(ctx)
	return result, err
}

// ValidateCurrentPolicies re-runs the validator against the backing file
// without swapping the active snapshot, mirroring the source's
// "validate what's currently loaded" check.
func (r *Repository) ValidateCurrentPolicies(ctx context.Context) abac.ValidationResult {
	_, body, err := readFile(r.path)
	if err != nil {
		set := r.current().set
		return abac.ValidationResult{Valid: true, PoliciesCount: len(set.Policies)}
	}
	_, result := abac.ParseAndValidate(body)
	return result
}

// Metadata implements abac.Repository.
func (r *Repository) Metadata(ctx context.Context) abac.Metadata {
	r.maybeReload(ctx)
	snap := r.current()
	var lastModified string
	if !snap.fileMTime.IsZero() {
		lastModified = snap.fileMTime.UTC().Format(time.RFC3339)
	}
	return abac.Metadata{
		Version:             snap.set.Version,
		Description:         snap.set.Description,
		Count:               len(snap.set.Policies),
		LastModified:        lastModified,
		EffectsDistribution: abac.EffectsDistribution(snap.set.Policies),
		FilePath:            r.path,
	}
}
