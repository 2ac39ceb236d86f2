package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/identitygate/identitygate/internal/adapter/outbound/memory"
	"github.com/identitygate/identitygate/internal/domain/abac"
)

type fakePolicyRepo struct {
	policies []abac.Policy
	err      error
}

func (f *fakePolicyRepo) GetAllPolicies(ctx context.Context) ([]abac.Policy, error) {
	return f.policies, f.err
}
func (f *fakePolicyRepo) GetPolicyByID(ctx context.Context, ruleID string) (abac.Policy, bool, error) {
	for _, p := range f.policies {
		if p.RuleID == ruleID {
			return p, true, nil
		}
	}
	return abac.Policy{}, false, nil
}
func (f *fakePolicyRepo) GetPoliciesByEffect(ctx context.Context, effect abac.Effect) ([]abac.Policy, error) {
	var out []abac.Policy
	for _, p := range f.policies {
		if p.Effect == effect {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakePolicyRepo) ReloadPolicies(ctx context.Context) (abac.ValidationResult, error) {
	return abac.ValidationResult{Valid: true, PoliciesCount: len(f.policies)}, nil
}
func (f *fakePolicyRepo) ValidateCurrentPolicies(ctx context.Context) abac.ValidationResult {
	return abac.ValidationResult{Valid: true, PoliciesCount: len(f.policies)}
}
func (f *fakePolicyRepo) Metadata(ctx context.Context) abac.Metadata {
	return abac.Metadata{Count: len(f.policies)}
}

func leafPolicy(ruleID string, effect abac.Effect, attrPath string, op abac.Operator, expected any) abac.Policy {
	return abac.Policy{
		RuleID: ruleID,
		Effect: effect,
		Conditions: &abac.ConditionTree{
			Kind: abac.NodeLeaf,
			Leaf: abac.LeafCondition{
				AttrPath: attrPath,
				Checks:   []abac.OperatorCheck{{Op: op, Expected: expected}},
			},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthzService(policies []abac.Policy) *AuthorizationService {
	repo := &fakePolicyRepo{policies: policies}
	evaluator := abac.NewEvaluator(discardLogger())
	auditStore := memory.NewAuditStoreWithWriter(io.Discard)
	return NewAuthorizationService(repo, evaluator, auditStore, discardLogger())
}

func TestAuthorizationService_Evaluate_DenyBeatsPermit(t *testing.T) {
	t.Parallel()

	svc := newAuthzService([]abac.Policy{
		leafPolicy("permit-all", abac.Permit, "subject.dept", abac.OpEq, "eng"),
		leafPolicy("deny-risky", abac.Deny, "subject.dept", abac.OpEq, "eng"),
	})

	resp := svc.Evaluate(context.Background(), abac.Request{Subject: abac.Subject{Dept: "eng"}}, "corr-1")

	if resp.Decision != abac.Deny {
		t.Fatalf("Decision = %q, want Deny", resp.Decision)
	}
}

func TestAuthorizationService_Evaluate_ChallengeBeatsPermit(t *testing.T) {
	t.Parallel()

	svc := newAuthzService([]abac.Policy{
		leafPolicy("permit-all", abac.Permit, "subject.dept", abac.OpEq, "eng"),
		leafPolicy("challenge-risky", abac.Challenge, "subject.dept", abac.OpEq, "eng"),
	})

	resp := svc.Evaluate(context.Background(), abac.Request{Subject: abac.Subject{Dept: "eng"}}, "corr-1")

	if resp.Decision != abac.Challenge {
		t.Fatalf("Decision = %q, want Challenge", resp.Decision)
	}
}

func TestAuthorizationService_Evaluate_NoMatchDefaultsDeny(t *testing.T) {
	t.Parallel()

	svc := newAuthzService([]abac.Policy{
		leafPolicy("permit-finance", abac.Permit, "subject.dept", abac.OpEq, "finance"),
	})

	resp := svc.Evaluate(context.Background(), abac.Request{Subject: abac.Subject{Dept: "eng"}}, "corr-1")

	if resp.Decision != abac.Deny {
		t.Fatalf("Decision = %q, want Deny", resp.Decision)
	}
	if len(resp.Reasons) == 0 || resp.Reasons[0] != "No applicable policies found" {
		t.Errorf("Reasons = %v, want default-deny reason", resp.Reasons)
	}
}

func TestAuthorizationService_Evaluate_MultipleEffectsLogsConflictWarning(t *testing.T) {
	t.Parallel()

	var logged bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logged, nil))

	repo := &fakePolicyRepo{policies: []abac.Policy{
		leafPolicy("permit-it", abac.Permit, "subject.dept", abac.OpEq, "eng"),
		leafPolicy("deny-it", abac.Deny, "subject.dept", abac.OpEq, "eng"),
	}}
	evaluator := abac.NewEvaluator(discardLogger())
	auditStore := memory.NewAuditStoreWithWriter(io.Discard)
	svc := NewAuthorizationService(repo, evaluator, auditStore, logger)

	resp := svc.Evaluate(context.Background(), abac.Request{Subject: abac.Subject{Dept: "eng"}}, "corr-conflict")

	if resp.Decision != abac.Deny {
		t.Fatalf("Decision = %q, want Deny", resp.Decision)
	}
	if !strings.Contains(logged.String(), "multiple policy effects matched request") {
		t.Errorf("expected a conflict warning to be logged, got: %s", logged.String())
	}
}

func TestAuthorizationService_Evaluate_SingleEffectDoesNotWarn(t *testing.T) {
	t.Parallel()

	var logged bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logged, nil))

	repo := &fakePolicyRepo{policies: []abac.Policy{
		leafPolicy("permit-it", abac.Permit, "subject.dept", abac.OpEq, "eng"),
	}}
	evaluator := abac.NewEvaluator(discardLogger())
	auditStore := memory.NewAuditStoreWithWriter(io.Discard)
	svc := NewAuthorizationService(repo, evaluator, auditStore, logger)

	svc.Evaluate(context.Background(), abac.Request{Subject: abac.Subject{Dept: "eng"}}, "corr-clean")

	if strings.Contains(logged.String(), "multiple policy effects matched request") {
		t.Errorf("expected no conflict warning for a single matching effect, got: %s", logged.String())
	}
}

func TestAuthorizationService_Evaluate_CachesRepeatedRequest(t *testing.T) {
	t.Parallel()

	repo := &fakePolicyRepo{policies: []abac.Policy{
		leafPolicy("permit-it", abac.Permit, "subject.dept", abac.OpEq, "eng"),
	}}
	evaluator := abac.NewEvaluator(discardLogger())
	auditStore := memory.NewAuditStoreWithWriter(io.Discard)
	svc := NewAuthorizationService(repo, evaluator, auditStore, discardLogger())

	req := abac.Request{Subject: abac.Subject{Dept: "eng"}}
	first := svc.Evaluate(context.Background(), req, "corr-a")
	second := svc.Evaluate(context.Background(), req, "corr-b")

	if first.Decision != second.Decision {
		t.Fatalf("cached decision changed: %q vs %q", first.Decision, second.Decision)
	}
}
