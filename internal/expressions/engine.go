package expressions

import (
	"context"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// Engine evaluates expressions against a submission scope.
// Two predicate implementations (CEL, Expr) back the "cel" and "expr"
// condition operators; GoJQ serves recipient queries.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// PredicateScope builds the variables visible to condition expressions:
//   - submission: header fields (id, status, priority, tenantId, ...)
//   - fields:     field id -> raw value
func PredicateScope(sub *store.Submission) map[string]any {
	header := sub.Document()
	delete(header, "fields")

	fields := make(map[string]any, len(sub.FieldValues))
	for _, fv := range sub.FieldValues {
		fields[fv.FieldID] = fv.Value
	}
	return map[string]any{
		"submission": header,
		"fields":     fields,
	}
}

// EvaluateBool runs a predicate and requires a boolean result.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluation,
			"%s expression %q returned %T, want bool", e.Name(), expression, out)
	}
	return b, nil
}
