package abac

import "context"

// Repository is the Policy Repository contract (component B): an
// in-memory, priority-ordered view over the current PolicySet, hot-reloaded
// from its backing store on detected change. Implementations must guarantee
// that concurrent readers observe either the old or the fully-constructed
// new set, never a partial swap.
type Repository interface {
	// GetAllPolicies returns a copy of the current ordered policy list,
	// triggering a hot-reload check first.
	GetAllPolicies(ctx context.Context) ([]Policy, error)

	// GetPolicyByID returns the policy with the given ruleId, or false if
	// none matches, after a hot-reload check.
	GetPolicyByID(ctx context.Context, ruleID string) (Policy, bool, error)

	// GetPoliciesByEffect returns a filtered copy of policies matching effect.
	GetPoliciesByEffect(ctx context.Context, effect Effect) ([]Policy, error)

	// ReloadPolicies forces a re-read and re-validation of the backing
	// store, atomically swapping the set on success.
	ReloadPolicies(ctx context.Context) (ValidationResult, error)

	// ValidateCurrentPolicies re-runs the validator against the in-memory set.
	ValidateCurrentPolicies(ctx context.Context) ValidationResult

	// Metadata describes the currently-loaded set for observability.
	Metadata(ctx context.Context) Metadata
}
