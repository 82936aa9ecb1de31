package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// Condition is a compiled condition with its target already resolved.
type Condition struct {
	Ref      FieldRef
	Operator schema.Operator
	Value    any
}

// Rule is a compiled trigger document.
type Rule struct {
	Trigger    schema.TriggerKind
	Logic      schema.Logic
	Conditions []Condition
}

// Evaluator compiles trigger documents and matches them against
// submissions. The CEL and Expr engines back the "cel" and "expr" operators;
// either may be nil, in which case its operator is rejected at compile time.
type Evaluator struct {
	cel    *expressions.CELEngine
	expr   *expressions.ExprEngine
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cel *expressions.CELEngine, expr *expressions.ExprEngine, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cel: cel, expr: expr, logger: logger}
}

// Compile resolves field references and pre-compiles expression operators.
// Unknown operators or logic, and expressions that fail to compile, are
// MALFORMED_RULE errors.
func (e *Evaluator) Compile(spec *schema.TriggerSpec) (*Rule, error) {
	logic := spec.Logic
	if logic == "" {
		logic = schema.LogicAnd
	}
	if logic != schema.LogicAnd && logic != schema.LogicOr {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedRule, "unknown logic %q", logic)
	}

	rule := &Rule{
		Trigger:    spec.Trigger,
		Logic:      logic,
		Conditions: make([]Condition, 0, len(spec.Conditions)),
	}
	for i, c := range spec.Conditions {
		compiled, err := e.compileCondition(c)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeMalformedRule, "condition %d: %s", i, err.Error()).WithCause(err)
		}
		rule.Conditions = append(rule.Conditions, compiled)
	}
	return rule, nil
}

func (e *Evaluator) compileCondition(c schema.Condition) (Condition, error) {
	out := Condition{Ref: ParseFieldRef(c.Field), Operator: c.Operator, Value: c.Value}

	switch c.Operator {
	case schema.OpEquals, schema.OpNotEquals, schema.OpContains,
		schema.OpGreaterThan, schema.OpLessThan, schema.OpIsEmpty, schema.OpIsNotEmpty:
		if c.Field == "" {
			return out, fmt.Errorf("operator %s requires a field", c.Operator)
		}
		return out, nil
	case schema.OpCEL, schema.OpExpr:
		src, ok := c.Value.(string)
		if !ok || src == "" {
			return out, fmt.Errorf("operator %s requires a string expression", c.Operator)
		}
		engine, err := e.engine(c.Operator)
		if err != nil {
			return out, err
		}
		if err := engine.Compile(src); err != nil {
			return out, err
		}
		return out, nil
	default:
		return out, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

type compiler interface {
	expressions.Engine
	Compile(expression string) error
}

func (e *Evaluator) engine(op schema.Operator) (compiler, error) {
	switch {
	case op == schema.OpCEL && e.cel != nil:
		return e.cel, nil
	case op == schema.OpExpr && e.expr != nil:
		return e.expr, nil
	}
	return nil, fmt.Errorf("operator %s is not enabled", op)
}

// Match reports whether sub satisfies rule. An empty condition list always
// matches. AND stops at the first false condition and OR at the first true,
// in list order.
func (e *Evaluator) Match(ctx context.Context, rule *Rule, sub *store.Submission) bool {
	if len(rule.Conditions) == 0 {
		return true
	}

	m := matcher{e: e, sub: sub}
	if rule.Logic == schema.LogicOr {
		for _, c := range rule.Conditions {
			if m.evaluate(ctx, c) {
				return true
			}
		}
		return false
	}
	for _, c := range rule.Conditions {
		if !m.evaluate(ctx, c) {
			return false
		}
	}
	return true
}

// Evaluate checks one condition against sub.
func (e *Evaluator) Evaluate(ctx context.Context, c Condition, sub *store.Submission) bool {
	m := matcher{e: e, sub: sub}
	return m.evaluate(ctx, c)
}

// matcher carries per-match state so the expression scope is built at most
// once per submission.
type matcher struct {
	e     *Evaluator
	sub   *store.Submission
	scope map[string]any
}

func (m *matcher) evaluate(ctx context.Context, c Condition) bool {
	switch c.Operator {
	case schema.OpCEL, schema.OpExpr:
		return m.evaluateExpression(ctx, c)
	}
	actual, _ := c.Ref.Resolve(m.sub)
	return Apply(c.Operator, actual, c.Value)
}

func (m *matcher) evaluateExpression(ctx context.Context, c Condition) bool {
	engine, err := m.e.engine(c.Operator)
	if err != nil {
		return false
	}
	if m.scope == nil {
		m.scope = expressions.PredicateScope(m.sub)
	}

	src, _ := c.Value.(string)
	ok, err := expressions.EvaluateBool(ctx, engine, src, m.scope)
	if err != nil {
		m.e.logger.DebugContext(ctx, "expression condition treated as false",
			"operator", string(c.Operator),
			"expression", src,
			"error", err,
		)
		return false
	}
	return ok
}
