// Package service hosts the orchestration layer that sits above the ABAC
// domain primitives: the Authorization Service (decision cache, precedence
// resolution, audit emission) and the Auth Service (grant-flow token
// issuance).
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/identitygate/identitygate/internal/domain/abac"
	"github.com/identitygate/identitygate/internal/domain/audit"
)

const (
	defaultCacheTTL  = 60 * time.Second
	cacheSweepLimit  = 1000
	statusHealthy    = "healthy"
	statusDegraded   = "degraded"
)

// cacheEntry pairs a cached response with its insertion time for TTL and
// sweep bookkeeping.
type cacheEntry struct {
	response   abac.Response
	insertedAt time.Time
}

// AuthorizationService implements component D: it wraps the Policy
// Repository and Condition Evaluator with a fingerprinted decision cache,
// Deny>Challenge>Permit>default-Deny precedence resolution, and audit
// emission. No uncaught error from Evaluate ever surfaces as anything
// other than a well-formed abac.Response.
type AuthorizationService struct {
	repo      abac.Repository
	evaluator *abac.Evaluator
	audit     audit.AuditStore
	logger    *slog.Logger
	cacheTTL  time.Duration

	mu    sync.Mutex
	cache map[uint64]cacheEntry
}

// AuthzOption configures an AuthorizationService.
type AuthzOption func(*AuthorizationService)

// WithCacheTTL overrides the default decision-cache TTL.
func WithCacheTTL(ttl time.Duration) AuthzOption {
	return func(s *AuthorizationService) {
		s.cacheTTL = ttl
	}
}

// NewAuthorizationService constructs an AuthorizationService.
func NewAuthorizationService(repo abac.Repository, evaluator *abac.Evaluator, store audit.AuditStore, logger *slog.Logger, opts ...AuthzOption) *AuthorizationService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuthorizationService{
		repo:      repo,
		evaluator: evaluator,
		audit:     store,
		logger:    logger,
		cacheTTL:  defaultCacheTTL,
		cache:     make(map[uint64]cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate is the Authorization Service's single public decision operation.
// It never returns an error: any internal failure collapses into a
// safe-default Deny response, per the "authorization never fails open"
// propagation rule.
func (s *AuthorizationService) Evaluate(ctx context.Context, req abac.Request, correlationID string) abac.Response {
	start := time.Now()

	resp, cacheHit, matchedRuleID := s.evaluateSafely(ctx, req, correlationID, start)

	elapsed := time.Since(start)
	s.emitAudit(req, resp, correlationID, matchedRuleID, elapsed, cacheHit)
	return resp
}

// evaluateSafely wraps the actual evaluation in a panic recovery boundary,
// since a condition-tree or repository bug must never crash the request.
func (s *AuthorizationService) evaluateSafely(ctx context.Context, req abac.Request, correlationID string, start time.Time) (resp abac.Response, cacheHit bool, matchedRuleID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authorization evaluation panicked, defaulting to deny", "panic", r)
			resp = evaluationErrorResponse(fmt.Sprintf("%v", r))
			cacheHit = false
			matchedRuleID = ""
		}
	}()
	return s.evaluate(ctx, req, correlationID)
}

func (s *AuthorizationService) evaluate(ctx context.Context, req abac.Request, correlationID string) (abac.Response, bool, string) {
	flat := s.evaluator.Flatten(req)
	fingerprint := fingerprintOf(flat)
	cacheable := fingerprint != 0

	if cached, ok := s.lookupCache(fingerprint); ok && cacheable {
		resp := cached
		if resp.Decision != abac.Permit {
			resp.Obligations = retagCorrelationID(resp.Obligations, correlationID)
		}
		return resp, true, ""
	}

	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		s.logger.Error("policy repository failure during evaluation", "error", err)
		return evaluationErrorResponse(err.Error()), false, ""
	}

	denyRules, challengeRules, permitRules := s.bucketByEffect(ctx, policies, flat)

	if ctx.Err() != nil {
		return defaultDenyResponse(), false, ""
	}

	resp, matchedRuleID := resolveDecision(denyRules, challengeRules, permitRules)
	if resp.Decision != abac.Permit {
		resp.Obligations = append(resp.Obligations, "correlation_id: "+correlationID)
	}
	s.warnOnPolicyConflict(denyRules, challengeRules, permitRules, resp.Decision, correlationID)

	if cacheable {
		s.insertCache(fingerprint, resp)
	}
	return resp, false, matchedRuleID
}

// warnOnPolicyConflict logs an informational warning when more than one
// effect bucket matched, i.e. the policy set itself disagrees about the
// outcome and precedence had to break the tie. The final decision already
// stands; this is observability only.
func (s *AuthorizationService) warnOnPolicyConflict(deny, challenge, permit []string, decision abac.Effect, correlationID string) {
	bucketsHit := 0
	if len(deny) > 0 {
		bucketsHit++
	}
	if len(challenge) > 0 {
		bucketsHit++
	}
	if len(permit) > 0 {
		bucketsHit++
	}
	if bucketsHit <= 1 {
		return
	}
	s.logger.Warn("multiple policy effects matched request",
		"correlation_id", correlationID,
		"deny_policies", len(deny),
		"challenge_policies", len(challenge),
		"permit_policies", len(permit),
		"final_decision", decision,
	)
}

// bucketByEffect evaluates every policy in priority order, grouping
// "ruleId: <id>" references by the effect of each matching policy. A
// single policy's evaluator panic is logged and that policy is skipped,
// per the "a single malformed policy cannot prevent evaluation of others"
// failure-isolation rule.
func (s *AuthorizationService) bucketByEffect(ctx context.Context, policies []abac.Policy, flat abac.FlattenedContext) (deny, challenge, permit []string) {
	for _, p := range policies {
		if ctx.Err() != nil {
			return deny, challenge, permit
		}
		matched := s.evalPolicySafely(p, flat)
		if !matched {
			continue
		}
		ref := "ruleId: " + p.RuleID
		switch p.Effect {
		case abac.Deny:
			deny = append(deny, ref)
		case abac.Challenge:
			challenge = append(challenge, ref)
		case abac.Permit:
			permit = append(permit, ref)
		}
	}
	return deny, challenge, permit
}

func (s *AuthorizationService) evalPolicySafely(p abac.Policy, flat abac.FlattenedContext) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("policy evaluation panicked, skipping policy", "rule_id", p.RuleID, "panic", r)
			matched = false
		}
	}()
	return s.evaluator.Eval(p.Conditions, flat)
}

// resolveDecision applies Deny > Challenge > Permit > default-Deny, with
// the exact reason/advice/obligation literals.
func resolveDecision(deny, challenge, permit []string) (abac.Response, string) {
	switch {
	case len(deny) > 0:
		return abac.Response{
			Decision:    abac.Deny,
			Reasons:     deny,
			Advice:      []string{"Access explicitly denied by policy"},
			Obligations: []string{"Log denied access attempt"},
		}, firstRuleID(deny)
	case len(challenge) > 0:
		return abac.Response{
			Decision: abac.Challenge,
			Reasons:  challenge,
			Advice:   []string{"Additional authentication required", "Contact administrator if needed"},
			Obligations: []string{
				"Log challenge requirement",
				"Initiate step-up authentication",
			},
		}, firstRuleID(challenge)
	case len(permit) > 0:
		return abac.Response{
			Decision:    abac.Permit,
			Reasons:     permit,
			Advice:      nil,
			Obligations: []string{"Log successful access"},
		}, firstRuleID(permit)
	default:
		return defaultDenyResponse(), ""
	}
}

// defaultDenyResponse is returned when no policy applies.
func defaultDenyResponse() abac.Response {
	return abac.Response{
		Decision:    abac.Deny,
		Reasons:     []string{"No applicable policies found"},
		Advice:      []string{"Contact administrator for access", "Review policy configuration"},
		Obligations: []string{"Log policy gap", "Alert security team"},
	}
}

// evaluationErrorResponse is the safe default returned when Evaluate
// itself fails, never an HTTP error.
func evaluationErrorResponse(msg string) abac.Response {
	return abac.Response{
		Decision:    abac.Deny,
		Reasons:     []string{"Evaluation error: " + msg},
		Advice:      []string{"Contact administrator for access"},
		Obligations: []string{"Log policy gap", "Alert security team"},
	}
}

func firstRuleID(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	// refs are "ruleId: <id>"; strip the label.
	const prefix = "ruleId: "
	if len(refs[0]) > len(prefix) {
		return refs[0][len(prefix):]
	}
	return ""
}

func retagCorrelationID(obligations []string, correlationID string) []string {
	out := make([]string, 0, len(obligations))
	for _, o := range obligations {
		if len(o) >= len("correlation_id: ") && o[:len("correlation_id: ")] == "correlation_id: " {
			continue
		}
		out = append(out, o)
	}
	out = append(out, "correlation_id: "+correlationID)
	return out
}

// fingerprintOf computes hash(sort(FlattenedContext) ∪ {action}) via a
// canonical JSON encoding of the flattened context (encoding/json already
// serializes map keys in sorted order) hashed with xxhash.
func fingerprintOf(flat abac.FlattenedContext) uint64 {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, flat[k])
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		// Unreachable for the closed value set Flatten produces; fall back
		// to a fixed fingerprint so evaluation still proceeds uncached.
		return 0
	}
	return xxhash.Sum64(data)
}

func (s *AuthorizationService) lookupCache(fingerprint uint64) (abac.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[fingerprint]
	if !ok {
		return abac.Response{}, false
	}
	if time.Since(entry.insertedAt) >= s.cacheTTL {
		return abac.Response{}, false
	}
	return entry.response, true
}

func (s *AuthorizationService) insertCache(fingerprint uint64, resp abac.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[fingerprint] = cacheEntry{response: resp, insertedAt: time.Now()}
	if len(s.cache) > cacheSweepLimit {
		s.sweepExpiredLocked()
	}
}

// sweepExpiredLocked removes expired entries; called with mu held, only
// when an insert has pushed the cache above the size threshold.
func (s *AuthorizationService) sweepExpiredLocked() {
	now := time.Now()
	for k, e := range s.cache {
		if now.Sub(e.insertedAt) >= s.cacheTTL {
			delete(s.cache, k)
		}
	}
}

// clearCache empties the decision cache. Must run strictly after the
// repository's policy-set swap, never before, so no reader can observe new
// policies paired with a decision cached against the old set.
func (s *AuthorizationService) clearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[uint64]cacheEntry)
}

func (s *AuthorizationService) emitAudit(req abac.Request, resp abac.Response, correlationID, matchedRuleID string, elapsed time.Duration, cacheHit bool) {
	if s.audit == nil {
		return
	}
	record := audit.AuditRecord{
		Timestamp:       time.Now().UTC(),
		CorrelationID:   correlationID,
		SubjectRole:     req.Subject.Role,
		Action:          req.NormalizedAction(),
		ResourceType:    req.Resource.Type,
		Decision:        resp.Decision,
		ReasonCount:     len(resp.Reasons),
		AdviceCount:     len(resp.Advice),
		ObligationCount: len(resp.Obligations),
		MatchedRuleID:   matchedRuleID,
		LatencyMicros:   elapsed.Microseconds(),
		CacheHit:        cacheHit,
	}
	if err := s.audit.Append(context.Background(), record); err != nil {
		s.logger.Error("failed to append authorization audit record", "error", err)
	}
}

// GetApplicablePolicies returns a per-policy applicability breakdown for
// the GET /authz/policies debug endpoint: the same evaluation as Evaluate,
// without resolving a decision.
func (s *AuthorizationService) GetApplicablePolicies(ctx context.Context, req abac.Request) abac.ApplicabilityReport {
	flat := s.evaluator.Flatten(req)
	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		s.logger.Error("policy repository failure during applicability check", "error", err)
		return abac.ApplicabilityReport{EvaluationContext: flat}
	}

	var applicable, nonApplicable []abac.PolicyApplicability
	for _, p := range policies {
		matched := s.evalPolicySafely(p, flat)
		entry := abac.PolicyApplicability{
			RuleID:      p.RuleID,
			Effect:      p.Effect,
			Description: p.Description,
			Priority:    p.Priority,
			Applicable:  matched,
		}
		if matched {
			applicable = append(applicable, entry)
		} else {
			nonApplicable = append(nonApplicable, entry)
		}
	}

	return abac.ApplicabilityReport{
		TotalPolicies:         len(policies),
		ApplicablePolicies:    applicable,
		NonApplicablePolicies: nonApplicable,
		EvaluationContext:     flat,
	}
}

// ReloadPolicies forces a repository reload and then clears the decision
// cache, strictly in that order.
func (s *AuthorizationService) ReloadPolicies(ctx context.Context) abac.ValidationResult {
	result, err := s.repo.ReloadPolicies(ctx)
	if err != nil {
		s.logger.Warn("policy reload failed, cache retained", "error", err)
		return result
	}
	s.clearCache()
	return result
}

// ValidateCurrentPolicies delegates to the repository.
func (s *AuthorizationService) ValidateCurrentPolicies(ctx context.Context) abac.ValidationResult {
	return s.repo.ValidateCurrentPolicies(ctx)
}

// ServiceMetrics is the shape returned by Metrics for GET /authz/metrics.
type ServiceMetrics struct {
	PoliciesCount       int            `json:"policiesCount"`
	EffectsDistribution map[abac.Effect]int `json:"effectsDistribution"`
	CacheSize           int            `json:"cacheSize"`
	CacheTTLSeconds     float64        `json:"cacheTtl"`
	LastModified        string         `json:"lastModified,omitempty"`
	Status              string         `json:"status"`
}

// Metrics reports observability data for the authorization service.
func (s *AuthorizationService) Metrics(ctx context.Context) ServiceMetrics {
	meta := s.repo.Metadata(ctx)

	s.mu.Lock()
	cacheSize := len(s.cache)
	s.mu.Unlock()

	status := statusHealthy
	if meta.Count == 0 {
		status = statusDegraded
	}

	return ServiceMetrics{
		PoliciesCount:       meta.Count,
		EffectsDistribution: meta.EffectsDistribution,
		CacheSize:           cacheSize,
		CacheTTLSeconds:     s.cacheTTL.Seconds(),
		LastModified:        meta.LastModified,
		Status:              status,
	}
}
