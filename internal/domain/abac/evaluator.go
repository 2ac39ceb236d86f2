package abac

import (
	"log/slog"
	"strconv"
	"strings"
)

// Evaluator recursively evaluates a ConditionTree against a FlattenedContext.
// Evaluation errors never propagate as exceptions: a comparison that cannot
// be made resolves to a boolean (see applyOperator) and a panic inside one
// is recovered, so an evaluator crash never escalates to request failure.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator constructs an Evaluator. logger may be nil, in which case
// slog.Default() is used.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Flatten re-keys the three attribute bags of a Request as "domain.name"
// plus bare "action", skipping fields that are unset.
func (e *Evaluator) Flatten(req Request) FlattenedContext {
	ctx := make(FlattenedContext)

	if req.Subject.Dept != "" {
		ctx["subject.dept"] = req.Subject.Dept
	}
	if req.Subject.Groups != nil {
		ctx["subject.groups"] = toAnySlice(req.Subject.Groups)
	}
	if req.Subject.RiskScore != nil {
		ctx["subject.riskScore"] = float64(*req.Subject.RiskScore)
	}
	if req.Subject.Role != "" {
		ctx["subject.role"] = req.Subject.Role
	}
	if req.Subject.ClearanceLevel != "" {
		ctx["subject.clearanceLevel"] = req.Subject.ClearanceLevel
	}

	if req.Resource.Type != "" {
		ctx["resource.type"] = req.Resource.Type
	}
	if req.Resource.Env != "" {
		ctx["resource.env"] = req.Resource.Env
	}
	if req.Resource.Classification != "" {
		ctx["resource.classification"] = req.Resource.Classification
	}
	if req.Resource.Owner != "" {
		ctx["resource.owner"] = req.Resource.Owner
	}
	if req.Resource.Sensitivity != "" {
		ctx["resource.sensitivity"] = req.Resource.Sensitivity
	}

	if req.Context.Geo != "" {
		ctx["context.geo"] = req.Context.Geo
	}
	if req.Context.DeviceTrusted != nil {
		ctx["context.deviceTrusted"] = *req.Context.DeviceTrusted
	}
	if req.Context.TimeOfDay != "" {
		ctx["context.timeOfDay"] = req.Context.TimeOfDay
	}
	if req.Context.DayOfWeek != "" {
		ctx["context.dayOfWeek"] = req.Context.DayOfWeek
	}
	if req.Context.IPAddress != "" {
		ctx["context.ipAddress"] = req.Context.IPAddress
	}
	if req.Context.UserAgent != "" {
		ctx["context.userAgent"] = req.Context.UserAgent
	}

	ctx["action"] = req.NormalizedAction()

	return ctx
}

// Eval walks node against ctx, short-circuiting AND/OR children.
func (e *Evaluator) Eval(node *ConditionTree, ctx FlattenedContext) bool {
	if node == nil {
		return false
	}
	switch node.Kind {
	case NodeAnd:
		for _, child := range node.Children {
			if !e.Eval(child, ctx) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, child := range node.Children {
			if e.Eval(child, ctx) {
				return true
			}
		}
		return false
	case NodeLeaf:
		return e.evalLeaf(node.Leaf, ctx)
	default:
		return false
	}
}

// evalLeaf ANDs together every operator check attached to one attribute path.
func (e *Evaluator) evalLeaf(leaf LeafCondition, ctx FlattenedContext) bool {
	actual, present := ctx[leaf.AttrPath]
	if !present {
		actual = nil
	}
	for _, check := range leaf.Checks {
		if !e.applyOperator(actual, check.Op, check.Expected, leaf.AttrPath) {
			return false
		}
	}
	return true
}

// applyOperator dispatches a single operator comparison. A comparison that
// cannot be made (type mismatch, malformed value) never panics or returns an
// error: eq/gt/gte/lt/lte/in/contains resolve to false and their negations
// ne/not_in/not_contains to true. Incomparable ordering operands, unknown
// operators and recovered panics are logged at warning level; a recovered
// panic resolves to false.
func (e *Evaluator) applyOperator(actual any, op Operator, expected any, attrPath string) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("condition evaluation panicked, treating as false",
				"attr_path", attrPath, "operator", op, "panic", r)
			result = false
		}
	}()

	switch op {
	case OpEq:
		return valuesEqual(actual, expected)
	case OpNe:
		return !valuesEqual(actual, expected)
	case OpGt:
		return e.compare(actual, expected, attrPath, func(a, b float64) bool { return a > b }, func(a, b string) bool { return a > b })
	case OpGte:
		return e.compare(actual, expected, attrPath, func(a, b float64) bool { return a >= b }, func(a, b string) bool { return a >= b })
	case OpLt:
		return e.compare(actual, expected, attrPath, func(a, b float64) bool { return a < b }, func(a, b string) bool { return a < b })
	case OpLte:
		return e.compare(actual, expected, attrPath, func(a, b float64) bool { return a <= b }, func(a, b string) bool { return a <= b })
	case OpIn:
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		return listContains(list, actual)
	case OpNotIn:
		list, ok := expected.([]any)
		if !ok {
			return true
		}
		return !listContains(list, actual)
	case OpContains:
		return safeContains(actual, expected)
	case OpNotContain:
		return !safeContains(actual, expected)
	default:
		e.logger.Warn("unknown operator during evaluation", "attr_path", attrPath, "operator", op)
		return false
	}
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aIsNum := toFloat(a)
	bf, bIsNum := toFloat(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	as, aIsList := a.([]any)
	bs, bIsList := b.([]any)
	if aIsList && bIsList {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valuesEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// compare handles gt/gte/lt/lte. On a timeOfDay path where both sides parse
// as "HH:MM" it compares minutes since midnight; otherwise numeric if both
// numeric, else string if both string, else a one-way string->float
// coercion, else false.
func (e *Evaluator) compare(actual, expected any, attrPath string, numCmp func(a, b float64) bool, strCmp func(a, b string) bool) bool {
	if strings.HasSuffix(attrPath, "timeOfDay") {
		am, aok := parseTimeOfDay(actual)
		bm, bok := parseTimeOfDay(expected)
		if aok && bok {
			return numCmp(float64(am), float64(bm))
		}
	}

	af, aIsNum := toFloat(actual)
	bf, bIsNum := toFloat(expected)
	if aIsNum && bIsNum {
		return numCmp(af, bf)
	}

	as, aIsStr := actual.(string)
	bs, bIsStr := expected.(string)
	if aIsStr && bIsStr {
		return strCmp(as, bs)
	}

	// one-way string -> float coercion
	if aIsStr && bIsNum {
		if f, ok := strToFloat(as); ok {
			return numCmp(f, bf)
		}
	}
	if bIsStr && aIsNum {
		if f, ok := strToFloat(bs); ok {
			return numCmp(af, f)
		}
	}

	e.logger.Warn("incomparable values in condition", "attr_path", attrPath, "actual", actual, "expected", expected)
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func strToFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseTimeOfDay converts an "HH:MM" string to minutes-since-midnight.
func parseTimeOfDay(v any) (int, bool) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, ":") {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func listContains(list []any, item any) bool {
	for _, v := range list {
		if valuesEqual(v, item) {
			return true
		}
	}
	return false
}

// safeContains implements "contains": list membership if actual is a list,
// substring match if actual is a string, false otherwise.
func safeContains(actual, expected any) bool {
	switch c := actual.(type) {
	case []any:
		return listContains(c, expected)
	case string:
		return strings.Contains(c, toDisplayString(expected))
	default:
		return false
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// toDisplayString stringifies an operand for "contains"/"not_contains"
// substring matching: a bare scalar becomes its literal text rather than
// being discarded, so a numeric or boolean operand is matched literally
// instead of silently matching everything. A whole float prints without a
// fractional part ("5") and a boolean as "true"/"false".
func toDisplayString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}
