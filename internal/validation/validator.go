package validation

import (
	"encoding/json"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// Stored automation document names, used as ValidationIssue.Document.
const (
	DocTrigger           = "trigger_conditions"
	DocActions           = "actions"
	DocEscalationActions = "escalation_actions"
)

// Validator is the decode boundary for stored automation documents. Raw JSON
// is checked against a JSON Schema (Draft 2020-12) and then decoded into
// typed values; failures are MALFORMED_RULE errors.
type Validator interface {
	DecodeTrigger(raw json.RawMessage) (*schema.TriggerSpec, error)
	DecodeActions(document string, raw json.RawMessage) ([]schema.ActionParams, error)
	Lint(a *store.Automation) *schema.ValidationResult
}
