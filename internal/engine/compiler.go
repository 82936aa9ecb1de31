package engine

import (
	"context"

	"github.com/rendis/triage/internal/rules"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/internal/validation"
	"github.com/rendis/triage/pkg/schema"
)

// CompiledAutomation is an automation whose stored documents passed the
// decode boundary.
type CompiledAutomation struct {
	Automation *store.Automation
	Rule       *rules.Rule
	Actions    []schema.ActionParams
}

// Compiler turns stored automations into CompiledAutomations. The runner
// compiles the ordinary action list; the escalation sweep compiles the
// escalation list, so a malformed escalation document never blocks ordinary
// runs.
type Compiler struct {
	validator validation.Validator
	evaluator *rules.Evaluator
}

// NewCompiler creates a Compiler.
func NewCompiler(v validation.Validator, ev *rules.Evaluator) *Compiler {
	return &Compiler{validator: v, evaluator: ev}
}

// Compile decodes the trigger and ordinary actions of a.
func (c *Compiler) Compile(a *store.Automation) (*CompiledAutomation, error) {
	return c.compile(a, validation.DocActions, a.Actions)
}

// CompileEscalation decodes the trigger and escalation actions of a.
func (c *Compiler) CompileEscalation(a *store.Automation) (*CompiledAutomation, error) {
	return c.compile(a, validation.DocEscalationActions, a.EscalationActions)
}

func (c *Compiler) compile(a *store.Automation, document string, raw []byte) (*CompiledAutomation, error) {
	spec, err := c.validator.DecodeTrigger(a.TriggerConditions)
	if err != nil {
		return nil, malformed(a.ID, err)
	}
	rule, err := c.evaluator.Compile(spec)
	if err != nil {
		return nil, malformed(a.ID, err)
	}
	params, err := c.validator.DecodeActions(document, raw)
	if err != nil {
		return nil, malformed(a.ID, err)
	}
	return &CompiledAutomation{Automation: a, Rule: rule, Actions: params}, nil
}

// Match evaluates the compiled rule against sub.
func (c *Compiler) Match(ctx context.Context, ca *CompiledAutomation, sub *store.Submission) bool {
	return c.evaluator.Match(ctx, ca.Rule, sub)
}

func malformed(automationID string, err error) error {
	return schema.NewErrorf(schema.ErrCodeMalformedRule, "automation %s is malformed", automationID).
		WithAutomation(automationID).
		WithCause(err)
}
