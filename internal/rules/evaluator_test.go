package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewEvaluator(cel, expressions.NewExprEngine(), nil)
}

func injurySubmission() *store.Submission {
	return &store.Submission{
		ID:       "s1",
		Status:   schema.StatusNew,
		Priority: schema.PriorityCritical,
		FieldValues: []store.FieldValue{
			{FieldID: "severity", Value: "Critical Injury"},
			{FieldID: "age", Value: float64(17)},
			{FieldID: "notes", Value: ""},
		},
	}
}

// --- Apply ---

func TestApply_Equals(t *testing.T) {
	assert.True(t, Apply(schema.OpEquals, "CRITICAL", "CRITICAL"))
	assert.False(t, Apply(schema.OpNotEquals, "CRITICAL", "CRITICAL"))
	assert.True(t, Apply(schema.OpEquals, "5", float64(5)), "numeric strings compare numerically")
	assert.True(t, Apply(schema.OpEquals, "5.0", "5"))
	assert.True(t, Apply(schema.OpEquals, true, "true"))
	assert.True(t, Apply(schema.OpEquals, nil, nil))
	assert.False(t, Apply(schema.OpEquals, nil, "x"))
	assert.True(t, Apply(schema.OpNotEquals, nil, "x"))
}

func TestApply_Contains(t *testing.T) {
	assert.True(t, Apply(schema.OpContains, "Critical Injury", "injury"))
	assert.False(t, Apply(schema.OpContains, "Minor", "injury"))
	assert.False(t, Apply(schema.OpContains, nil, ""))
	assert.True(t, Apply(schema.OpContains, []any{"Ankle", "Knee"}, "knee"))
	assert.False(t, Apply(schema.OpContains, "Critical Injury", nil), "missing value never matches")
	assert.True(t, Apply(schema.OpContains, "Critical Injury", ""), "explicit empty string still matches")
}

func TestApply_NumericComparisons(t *testing.T) {
	assert.False(t, Apply(schema.OpGreaterThan, "abc", "2"))
	assert.False(t, Apply(schema.OpLessThan, "abc", "2"))
	assert.True(t, Apply(schema.OpGreaterThan, float64(17), "16"))
	assert.True(t, Apply(schema.OpLessThan, "3", float64(10)), "not lexicographic")
	assert.False(t, Apply(schema.OpGreaterThan, "", float64(-1)))
	assert.False(t, Apply(schema.OpLessThan, nil, float64(1)))
	assert.False(t, Apply(schema.OpGreaterThan, true, float64(0)))
}

func TestApply_Emptiness(t *testing.T) {
	assert.True(t, Apply(schema.OpIsEmpty, nil, nil))
	assert.True(t, Apply(schema.OpIsEmpty, "", nil))
	assert.False(t, Apply(schema.OpIsNotEmpty, "", nil))
	assert.False(t, Apply(schema.OpIsNotEmpty, nil, nil))
	assert.True(t, Apply(schema.OpIsNotEmpty, float64(0), nil))
}

func TestApply_UnknownOperator(t *testing.T) {
	assert.False(t, Apply(schema.Operator("startsWith"), "a", "a"))
}

// --- FieldRef ---

func TestParseFieldRef(t *testing.T) {
	assert.Equal(t, ReservedStatus, ParseFieldRef("_status"))
	assert.Equal(t, ReservedPriority, ParseFieldRef("_priority"))
	assert.Equal(t, UserField("age"), ParseFieldRef("age"))
}

func TestFieldRef_Resolve(t *testing.T) {
	sub := injurySubmission()

	v, ok := ReservedStatus.Resolve(sub)
	assert.True(t, ok)
	assert.Equal(t, "NEW", v)

	v, _ = ReservedPriority.Resolve(sub)
	assert.Equal(t, "CRITICAL", v)

	sub.Priority = schema.PriorityUnset
	v, _ = ReservedPriority.Resolve(sub)
	assert.Nil(t, v)

	v, ok = UserField("age").Resolve(sub)
	assert.True(t, ok)
	assert.Equal(t, float64(17), v)

	_, ok = UserField("missing").Resolve(sub)
	assert.False(t, ok)
}

// --- Compile ---

func TestCompile_DefaultsAndRefs(t *testing.T) {
	e := newEvaluator(t)
	rule, err := e.Compile(&schema.TriggerSpec{
		Trigger: schema.TriggerOnSubmit,
		Conditions: []schema.Condition{
			{Field: "_priority", Operator: schema.OpEquals, Value: "CRITICAL"},
			{Field: "age", Operator: schema.OpGreaterThan, Value: float64(12)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.LogicAnd, rule.Logic)
	assert.Equal(t, ReservedPriority, rule.Conditions[0].Ref)
	assert.Equal(t, UserField("age"), rule.Conditions[1].Ref)
}

func TestCompile_Rejects(t *testing.T) {
	e := newEvaluator(t)
	cases := map[string]*schema.TriggerSpec{
		"unknown operator": {Conditions: []schema.Condition{{Field: "a", Operator: "startsWith"}}},
		"unknown logic":    {Logic: "XOR"},
		"missing field":    {Conditions: []schema.Condition{{Operator: schema.OpEquals, Value: "x"}}},
		"bad cel":          {Conditions: []schema.Condition{{Operator: schema.OpCEL, Value: "fields.a =="}}},
		"bad expr":         {Conditions: []schema.Condition{{Operator: schema.OpExpr, Value: "1 + 1"}}},
		"cel not string":   {Conditions: []schema.Condition{{Operator: schema.OpCEL, Value: float64(1)}}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Compile(spec)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeMalformedRule))
		})
	}
}

func TestCompile_DisabledEngine(t *testing.T) {
	e := NewEvaluator(nil, nil, nil)
	_, err := e.Compile(&schema.TriggerSpec{Conditions: []schema.Condition{{Operator: schema.OpExpr, Value: "true"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enabled")
}

// --- Match ---

func TestMatch_EmptyConditionsAlwaysTrue(t *testing.T) {
	e := newEvaluator(t)
	for _, logic := range []schema.Logic{schema.LogicAnd, schema.LogicOr} {
		assert.True(t, e.Match(context.Background(), &Rule{Logic: logic}, &store.Submission{}))
	}
}

func TestMatch_AndOr(t *testing.T) {
	e := newEvaluator(t)
	sub := injurySubmission()
	trueCond := Condition{Ref: ReservedStatus, Operator: schema.OpEquals, Value: "NEW"}
	falseCond := Condition{Ref: ReservedStatus, Operator: schema.OpEquals, Value: "CLOSED"}

	and := &Rule{Logic: schema.LogicAnd, Conditions: []Condition{trueCond, falseCond}}
	or := &Rule{Logic: schema.LogicOr, Conditions: []Condition{falseCond, trueCond}}
	assert.False(t, e.Match(context.Background(), and, sub))
	assert.True(t, e.Match(context.Background(), or, sub))
}

func TestMatch_ShortCircuit(t *testing.T) {
	e := newEvaluator(t)
	sub := injurySubmission()
	// Evaluating the second condition would fail on the missing key and be
	// logged; the result must not depend on it either way.
	missing := Condition{Operator: schema.OpCEL, Value: `fields.nope == "x"`}

	and := &Rule{Logic: schema.LogicAnd, Conditions: []Condition{
		{Ref: ReservedStatus, Operator: schema.OpEquals, Value: "CLOSED"}, missing,
	}}
	or := &Rule{Logic: schema.LogicOr, Conditions: []Condition{
		{Ref: ReservedStatus, Operator: schema.OpEquals, Value: "NEW"}, missing,
	}}
	assert.False(t, e.Match(context.Background(), and, sub))
	assert.True(t, e.Match(context.Background(), or, sub))
}

func TestMatch_CompiledDocument(t *testing.T) {
	e := newEvaluator(t)
	rule, err := e.Compile(&schema.TriggerSpec{
		Trigger: schema.TriggerOnSubmit,
		Logic:   schema.LogicAnd,
		Conditions: []schema.Condition{
			{Field: "_priority", Operator: schema.OpEquals, Value: "CRITICAL"},
			{Field: "severity", Operator: schema.OpContains, Value: "injury"},
			{Field: "notes", Operator: schema.OpIsEmpty},
			{Field: "missing", Operator: schema.OpIsEmpty},
			{Operator: schema.OpCEL, Value: `fields.age < 18.0`},
			{Operator: schema.OpExpr, Value: `submission.status == "NEW"`},
		},
	})
	require.NoError(t, err)
	assert.True(t, e.Match(context.Background(), rule, injurySubmission()))

	sub := injurySubmission()
	sub.Priority = schema.PriorityLow
	assert.False(t, e.Match(context.Background(), rule, sub))
}

func TestEvaluate_ExpressionErrorIsFalse(t *testing.T) {
	e := newEvaluator(t)
	c := Condition{Operator: schema.OpCEL, Value: `submission.status`}
	assert.False(t, e.Evaluate(context.Background(), c, injurySubmission()), "non-bool result")
}
