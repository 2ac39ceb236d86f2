// Package abac contains the domain types for attribute-based access control:
// policies, condition trees, evaluation requests/responses, and the closed
// set of attribute paths and operators a policy may reference.
package abac

import "sort"

// Effect is the outcome a matching policy intends.
type Effect string

const (
	Permit    Effect = "Permit"
	Deny      Effect = "Deny"
	Challenge Effect = "Challenge"
)

// Valid reports whether e is one of the three enumerated effects.
func (e Effect) Valid() bool {
	switch e {
	case Permit, Deny, Challenge:
		return true
	default:
		return false
	}
}

// Operator is one of the closed set of leaf comparison operators.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpNotContain Operator = "not_contains"
)

var knownOperators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpNotContain: {},
}

// ValidOperator reports whether op belongs to the closed operator set.
func ValidOperator(op Operator) bool {
	_, ok := knownOperators[op]
	return ok
}

// Domain is one of the three attribute bags a path may reference.
type Domain string

const (
	DomainSubject  Domain = "subject"
	DomainResource Domain = "resource"
	DomainContext  Domain = "context"
)

// ValidAttributes is the closed set of attribute names per domain, mirroring
// the wire grammar in the policy file format.
var ValidAttributes = map[Domain]map[string]struct{}{
	DomainSubject: {
		"dept": {}, "groups": {}, "riskScore": {}, "role": {}, "clearanceLevel": {},
	},
	DomainResource: {
		"type": {}, "env": {}, "classification": {}, "owner": {}, "sensitivity": {},
	},
	DomainContext: {
		"geo": {}, "deviceTrusted": {}, "timeOfDay": {}, "dayOfWeek": {}, "ipAddress": {}, "userAgent": {},
	},
}

// NodeKind tags the variant of a ConditionTree node.
type NodeKind int

const (
	NodeAnd NodeKind = iota
	NodeOr
	NodeLeaf
)

// LeafCondition is one attribute-path predicate: operator -> expected value,
// all AND-joined when a leaf carries more than one operator.
type LeafCondition struct {
	AttrPath string
	Checks   []OperatorCheck
}

// OperatorCheck pairs an operator with its expected literal value.
type OperatorCheck struct {
	Op       Operator
	Expected any
}

// ConditionTree is a closed tagged variant built once at policy load time so
// evaluation dispatch is a cheap tag switch rather than a map-key probe.
type ConditionTree struct {
	Kind     NodeKind
	Children []*ConditionTree // populated for NodeAnd / NodeOr
	Leaf     LeafCondition    // populated for NodeLeaf
}

// Policy is one access control rule over a ConditionTree.
type Policy struct {
	RuleID      string
	Effect      Effect
	Description string
	Priority    int // default 100, lower = evaluated earlier
	Conditions  *ConditionTree
	// FileIndex is the position in the source file, used as the stable
	// tie-breaker when two policies share a priority.
	FileIndex int
}

// PolicySet is the full loaded, sorted set of policies plus metadata.
type PolicySet struct {
	Version     string
	Description string
	Policies    []Policy
}

// SortPolicies orders policies by ascending priority, ties broken by the
// order they appeared in the source file.
func SortPolicies(policies []Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority < policies[j].Priority
		}
		return policies[i].FileIndex < policies[j].FileIndex
	})
}

// EffectsDistribution counts policies by effect.
func EffectsDistribution(policies []Policy) map[Effect]int {
	dist := map[Effect]int{Permit: 0, Deny: 0, Challenge: 0}
	for _, p := range policies {
		dist[p.Effect]++
	}
	return dist
}

// Subject describes the caller making an access request.
type Subject struct {
	Dept           string   `json:"dept,omitempty"`
	Groups         []string `json:"groups,omitempty"`
	RiskScore      *int     `json:"riskScore,omitempty" validate:"omitempty,min=0,max=100"`
	Role           string   `json:"role,omitempty"`
	ClearanceLevel string   `json:"clearanceLevel,omitempty"`
}

// Resource describes what is being accessed.
type Resource struct {
	Type           string `json:"type,omitempty"`
	Env            string `json:"env,omitempty"`
	Classification string `json:"classification,omitempty"`
	Owner          string `json:"owner,omitempty"`
	Sensitivity    string `json:"sensitivity,omitempty"`
}

// Context describes the environment surrounding the request.
type Context struct {
	Geo           string `json:"geo,omitempty"`
	DeviceTrusted *bool  `json:"deviceTrusted,omitempty"`
	TimeOfDay     string `json:"timeOfDay,omitempty"`
	DayOfWeek     string `json:"dayOfWeek,omitempty"`
	IPAddress     string `json:"ipAddress,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
}

// Request is an ABAC evaluation request: three attribute bags plus an action.
type Request struct {
	Subject  Subject  `json:"subject"`
	Resource Resource `json:"resource"`
	Context  Context  `json:"context"`
	Action   string   `json:"action,omitempty"`
}

// NormalizedAction returns the request's action, defaulting to "access".
func (r Request) NormalizedAction() string {
	if r.Action == "" {
		return "access"
	}
	return r.Action
}

// FlattenedContext maps "domain.name" (plus bare "action") to a typed value.
type FlattenedContext map[string]any

// Response is the outcome of an ABAC evaluation.
type Response struct {
	Decision    Effect   `json:"decision"`
	Reasons     []string `json:"reasons"`
	Advice      []string `json:"advice"`
	Obligations []string `json:"obligations"`
}

// ValidationResult reports the outcome of validating a policy document, or
// of re-validating the currently-loaded set.
type ValidationResult struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	PoliciesCount  int      `json:"policiesCount"`
}

// Metadata describes the currently-loaded PolicySet for observability.
type Metadata struct {
	Version             string         `json:"version"`
	Description         string         `json:"description"`
	Count               int            `json:"count"`
	LastModified        string         `json:"lastModified,omitempty"`
	EffectsDistribution map[Effect]int `json:"effectsDistribution"`
	FilePath            string         `json:"filePath"`
}

// PolicyApplicability annotates one policy with whether it matched a given
// request, for the debug "applicable policies" listing.
type PolicyApplicability struct {
	RuleID      string `json:"ruleId"`
	Effect      Effect `json:"effect"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Applicable  bool   `json:"applicable"`
}

// ApplicabilityReport is the full debug breakdown for GET /authz/policies.
type ApplicabilityReport struct {
	TotalPolicies        int                   `json:"totalPolicies"`
	ApplicablePolicies   []PolicyApplicability `json:"applicablePolicies"`
	NonApplicablePolicies []PolicyApplicability `json:"nonApplicablePolicies"`
	EvaluationContext     FlattenedContext      `json:"evaluationContext"`
}
