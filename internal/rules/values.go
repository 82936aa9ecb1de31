package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/pkg/schema"
)

// Apply evaluates a comparison operator against a resolved field value.
// It is pure: unparseable or absent values take the operator's absent-value
// branch instead of failing. cel and expr are not comparisons and always
// return false here.
func Apply(op schema.Operator, actual, expected any) bool {
	switch op {
	case schema.OpEquals:
		return looseEqual(actual, expected)
	case schema.OpNotEquals:
		return !looseEqual(actual, expected)
	case schema.OpContains:
		if actual == nil || expected == nil {
			return false
		}
		return strings.Contains(
			strings.ToLower(expressions.Stringify(actual)),
			strings.ToLower(expressions.Stringify(expected)))
	case schema.OpGreaterThan:
		a, okA := toNumber(actual)
		b, okB := toNumber(expected)
		return okA && okB && a > b
	case schema.OpLessThan:
		a, okA := toNumber(actual)
		b, okB := toNumber(expected)
		return okA && okB && a < b
	case schema.OpIsEmpty:
		return isEmpty(actual)
	case schema.OpIsNotEmpty:
		return !isEmpty(actual)
	}
	return false
}

// looseEqual compares numerically when both sides are numeric and by string
// form otherwise. null only equals null.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x == y
		}
	}
	return expressions.Stringify(a) == expressions.Stringify(b)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// toNumber coerces numbers and numeric strings. Blank strings, booleans and
// composite values are not numeric.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
