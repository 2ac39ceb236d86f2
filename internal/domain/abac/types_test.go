package abac

import "testing"

func TestSortPolicies_ByPriorityThenFileIndex(t *testing.T) {
	t.Parallel()

	policies := []Policy{
		{RuleID: "c", Priority: 10, FileIndex: 2},
		{RuleID: "a", Priority: 5, FileIndex: 0},
		{RuleID: "b", Priority: 5, FileIndex: 1},
	}
	SortPolicies(policies)

	want := []string{"a", "b", "c"}
	for i, id := range want {
		if policies[i].RuleID != id {
			t.Errorf("policies[%d].RuleID = %q, want %q", i, policies[i].RuleID, id)
		}
	}
}

func TestEffectsDistribution(t *testing.T) {
	t.Parallel()

	policies := []Policy{
		{Effect: Permit}, {Effect: Permit}, {Effect: Deny}, {Effect: Challenge},
	}
	dist := EffectsDistribution(policies)

	if dist[Permit] != 2 {
		t.Errorf("dist[Permit] = %d, want 2", dist[Permit])
	}
	if dist[Deny] != 1 {
		t.Errorf("dist[Deny] = %d, want 1", dist[Deny])
	}
	if dist[Challenge] != 1 {
		t.Errorf("dist[Challenge] = %d, want 1", dist[Challenge])
	}
}

func TestEffect_Valid(t *testing.T) {
	t.Parallel()

	for _, e := range []Effect{Permit, Deny, Challenge} {
		if !e.Valid() {
			t.Errorf("%q.Valid() = false, want true", e)
		}
	}
	if Effect("Maybe").Valid() {
		t.Error("\"Maybe\".Valid() = true, want false")
	}
}

func TestRequest_NormalizedAction(t *testing.T) {
	t.Parallel()

	if got := (Request{}).NormalizedAction(); got != "access" {
		t.Errorf("NormalizedAction() on empty action = %q, want %q", got, "access")
	}
	if got := (Request{Action: "read"}).NormalizedAction(); got != "read" {
		t.Errorf("NormalizedAction() = %q, want %q", got, "read")
	}
}
