package abac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawDocument mirrors the on-disk policy file shape before semantic checks.
type rawDocument struct {
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Policies    []json.RawMessage `json:"policies"`
}

type rawPolicy struct {
	RuleID      string          `json:"ruleId"`
	Effect      string          `json:"effect"`
	Description string          `json:"description"`
	Priority    *int            `json:"priority"`
	Conditions  json.RawMessage `json:"conditions"`
}

// ParseAndValidate parses a policy file body, validates it against the
// closed grammar, and returns the constructed, sorted PolicySet alongside
// the validation result. The PolicySet is nil whenever Valid is false.
func ParseAndValidate(body []byte) (*PolicySet, ValidationResult) {
	var doc struct {
		Version     string           `json:"version"`
		Description string           `json:"description"`
		Policies    *json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("invalid JSON: %v", err)}}
	}
	if doc.Policies == nil {
		return nil, ValidationResult{Valid: false, Errors: []string{"top-level \"policies\" is missing"}}
	}

	var rawPolicies []json.RawMessage
	if err := json.Unmarshal(*doc.Policies, &rawPolicies); err != nil {
		return nil, ValidationResult{Valid: false, Errors: []string{"top-level \"policies\" is not a list"}}
	}

	var errs, warnings []string
	policies := make([]Policy, 0, len(rawPolicies))
	seenIDs := make(map[string]int, len(rawPolicies))

	for i, rawItem := range rawPolicies {
		prefix := fmt.Sprintf("Policy %d:", i)
		var rp rawPolicy
		if err := json.Unmarshal(rawItem, &rp); err != nil {
			errs = append(errs, fmt.Sprintf("%s malformed policy object: %v", prefix, err))
			continue
		}

		var itemErrs []string
		if rp.RuleID == "" {
			itemErrs = append(itemErrs, prefix+" missing required key \"ruleId\"")
		}
		if rp.Effect == "" {
			itemErrs = append(itemErrs, prefix+" missing required key \"effect\"")
		} else if !Effect(rp.Effect).Valid() {
			itemErrs = append(itemErrs, fmt.Sprintf("%s effect %q is not one of Permit|Deny|Challenge", prefix, rp.Effect))
		}
		if rp.Description == "" {
			itemErrs = append(itemErrs, prefix+" missing required key \"description\"")
		}
		if len(rp.Conditions) == 0 {
			itemErrs = append(itemErrs, prefix+" missing required key \"conditions\"")
		}

		priority := 100
		if rp.Priority != nil {
			priority = *rp.Priority
		}

		var tree *ConditionTree
		if len(rp.Conditions) > 0 {
			var condErrs []string
			tree, condErrs = validateConditions(rp.Conditions, prefix+" conditions")
			itemErrs = append(itemErrs, condErrs...)
		}

		if len(itemErrs) > 0 {
			errs = append(errs, itemErrs...)
			continue
		}

		if prior, dup := seenIDs[rp.RuleID]; dup {
			errs = append(errs, fmt.Sprintf("%s duplicate ruleId %q (first seen at policy %d)", prefix, rp.RuleID, prior))
			continue
		}
		seenIDs[rp.RuleID] = i

		policies = append(policies, Policy{
			RuleID:      rp.RuleID,
			Effect:      Effect(rp.Effect),
			Description: rp.Description,
			Priority:    priority,
			Conditions:  tree,
			FileIndex:   i,
		})
	}

	if len(errs) > 0 {
		return nil, ValidationResult{Valid: false, Errors: errs, Warnings: warnings, PoliciesCount: len(policies)}
	}

	if !hasEffect(policies, Permit) {
		warnings = append(warnings, "policy set has no Permit effect; all requests will be denied or challenged")
	}
	if sharesMajorityPriority(policies) {
		warnings = append(warnings, "more than 50% of policies share an identical priority")
	}

	SortPolicies(policies)

	return &PolicySet{
			Version:     doc.Version,
			Description: doc.Description,
			Policies:    policies,
		}, ValidationResult{
			Valid:         true,
			Errors:        nil,
			Warnings:      warnings,
			PoliciesCount: len(policies),
		}
}

func hasEffect(policies []Policy, want Effect) bool {
	for _, p := range policies {
		if p.Effect == want {
			return true
		}
	}
	return false
}

// sharesMajorityPriority reports whether more than half of the policies
// share one identical priority value.
func sharesMajorityPriority(policies []Policy) bool {
	counts := make(map[int]int, len(policies))
	for _, p := range policies {
		counts[p.Priority]++
		if counts[p.Priority]*2 > len(policies) {
			return true
		}
	}
	return false
}

// validateConditions recursively parses and validates a ConditionTree,
// returning the constructed tree and any accumulated errors. AND/OR require
// a non-empty list of sub-conditions; leaves are objects keyed by attribute
// path, each mapping to an operator object.
func validateConditions(raw json.RawMessage, label string) (*ConditionTree, []string) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, []string{fmt.Sprintf("%s must be an object", label)}
	}

	if sub, ok := generic["AND"]; ok {
		return validateBranch(sub, NodeAnd, label+".AND")
	}
	if sub, ok := generic["OR"]; ok {
		return validateBranch(sub, NodeOr, label+".OR")
	}

	// Leaf object: one or more attribute paths, AND-joined.
	if len(generic) == 0 {
		return nil, []string{label + " has no conditions"}
	}

	var errs []string
	var leaves []*ConditionTree
	for path, opsRaw := range generic {
		leaf, leafErrs := validateLeaf(path, opsRaw, fmt.Sprintf("%s[%q]", label, path))
		errs = append(errs, leafErrs...)
		if leaf != nil {
			leaves = append(leaves, leaf)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return &ConditionTree{Kind: NodeAnd, Children: leaves}, nil
}

func validateBranch(raw json.RawMessage, kind NodeKind, label string) (*ConditionTree, []string) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, []string{label + " must be a list"}
	}
	if len(items) == 0 {
		return nil, []string{label + " must not be empty"}
	}

	var errs []string
	children := make([]*ConditionTree, 0, len(items))
	for i, item := range items {
		child, childErrs := validateConditions(item, fmt.Sprintf("%s[%d]", label, i))
		errs = append(errs, childErrs...)
		if child != nil {
			children = append(children, child)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &ConditionTree{Kind: kind, Children: children}, nil
}

func validateLeaf(path string, opsRaw json.RawMessage, label string) (*ConditionTree, []string) {
	domain, attr, ok := splitAttrPath(path)
	if !ok {
		return nil, []string{label + ": attribute path must contain a domain and name separated by \".\""}
	}
	if path == "action" {
		// top-level bare "action" attribute, no domain prefix
	} else if _, known := ValidAttributes[domain]; !known {
		return nil, []string{fmt.Sprintf("%s: unknown domain %q", label, domain)}
	} else if _, known := ValidAttributes[domain][attr]; !known {
		return nil, []string{fmt.Sprintf("%s: unknown attribute %q in domain %q", label, attr, domain)}
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(opsRaw, &ops); err != nil || len(ops) == 0 {
		return nil, []string{label + " must map to an object of operator: value"}
	}

	var errs []string
	checks := make([]OperatorCheck, 0, len(ops))
	for opName, valRaw := range ops {
		op := Operator(opName)
		if !ValidOperator(op) {
			errs = append(errs, fmt.Sprintf("%s: unknown operator %q", label, opName))
			continue
		}
		var val any
		if err := json.Unmarshal(valRaw, &val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: malformed value for operator %q", label, opName))
			continue
		}
		if typeErr := validateOperatorValue(op, val); typeErr != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", label, typeErr))
			continue
		}
		checks = append(checks, OperatorCheck{Op: op, Expected: val})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &ConditionTree{Kind: NodeLeaf, Leaf: LeafCondition{AttrPath: path, Checks: checks}}, nil
}

// validateOperatorValue enforces invariant 3: in/not_in require a list
// literal; gt/gte/lt/lte require a comparable scalar (number or string).
func validateOperatorValue(op Operator, val any) string {
	switch op {
	case OpIn, OpNotIn:
		if _, ok := val.([]any); !ok {
			return fmt.Sprintf("operator %q requires a list value", op)
		}
	case OpGt, OpGte, OpLt, OpLte:
		switch val.(type) {
		case float64, string:
			// ok
		default:
			return fmt.Sprintf("operator %q requires a numeric or string value", op)
		}
	}
	return ""
}

// splitAttrPath splits "domain.name" into its two parts. The bare top-level
// "action" attribute has no dot and is handled specially by callers.
func splitAttrPath(path string) (Domain, string, bool) {
	if path == "action" {
		return "", "action", true
	}
	idx := strings.IndexByte(path, '.')
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	return Domain(path[:idx]), path[idx+1:], true
}
