// Package audit contains domain types for the authorization decision audit
// trail: one record per evaluated request, independent of whether the
// decision was served fresh or from the decision cache.
package audit

import (
	"time"

	"github.com/identitygate/identitygate/internal/domain/abac"
)

// AuditRecord represents a single authorization decision event.
type AuditRecord struct {
	// Timestamp is when the decision was produced.
	Timestamp time.Time
	// CorrelationID identifies the request for cross-system correlation. It
	// is always the current request's ID, including on a cache hit whose
	// decision body is shared with the original evaluation.
	CorrelationID string
	// SubjectRole is the role attribute of the evaluated subject, logged
	// for operator triage without requiring a join against the subject bag.
	SubjectRole string
	// Action is the normalized action string evaluated.
	Action string
	// ResourceType is the resource.type attribute of the evaluated request.
	ResourceType string
	// Decision is one of abac.Permit, abac.Deny, abac.Challenge.
	Decision abac.Effect
	// ReasonCount, AdviceCount, ObligationCount summarize the Response's
	// lists without duplicating their full text into every record.
	ReasonCount     int
	AdviceCount     int
	ObligationCount int
	// MatchedRuleID is the ruleId of the policy that produced Decision. It
	// is empty for a default-Deny with no applicable policy, for an
	// evaluation-error Deny, and for a decision served from the cache.
	MatchedRuleID string
	// LatencyMicros is the evaluation latency in microseconds. Zero or near
	// zero on a cache hit.
	LatencyMicros int64
	// CacheHit reports whether the decision was served from the decision
	// cache rather than freshly evaluated.
	CacheHit bool
}
