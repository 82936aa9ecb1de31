package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

const (
	triggerSchemaURL = "https://triage.dev/schemas/trigger.json"
	actionsSchemaURL = "https://triage.dev/schemas/actions.json"
)

// triggerSchemaJSON describes the trigger_conditions document.
const triggerSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://triage.dev/schemas/trigger.json",
  "type": "object",
  "required": ["trigger"],
  "properties": {
    "trigger": {
      "type": "string",
      "enum": ["ON_SUBMIT", "ON_STATUS_CHANGE"]
    },
    "logic": {
      "type": "string",
      "enum": ["AND", "OR"]
    },
    "conditions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/condition" }
    }
  },
  "$defs": {
    "condition": {
      "type": "object",
      "required": ["operator"],
      "properties": {
        "field": { "type": "string" },
        "operator": {
          "type": "string",
          "enum": ["equals", "notEquals", "contains", "greaterThan", "lessThan",
                   "isEmpty", "isNotEmpty", "cel", "expr"]
        },
        "value": {}
      },
      "if": {
        "required": ["operator"],
        "properties": { "operator": { "enum": ["cel", "expr"] } }
      },
      "then": {
        "required": ["value"],
        "properties": { "value": { "type": "string", "minLength": 1 } }
      },
      "else": {
        "required": ["field"],
        "properties": { "field": { "minLength": 1 } }
      }
    }
  }
}`

// actionsSchemaJSON describes the actions and escalation_actions documents.
// Each action type constrains the shape of its config.
const actionsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://triage.dev/schemas/actions.json",
  "type": "object",
  "properties": {
    "actions": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/action" }
    }
  },
  "$defs": {
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["SEND_EMAIL", "SET_PRIORITY", "ASSIGN_USER", "CREATE_NOTIFICATION", "SET_STATUS"]
        },
        "config": { "type": ["object", "null"] }
      },
      "allOf": [
        {
          "if": { "required": ["type"], "properties": { "type": { "const": "SEND_EMAIL" } } },
          "then": {
            "required": ["config"],
            "properties": { "config": {
              "type": "object",
              "required": ["to"],
              "properties": {
                "to": { "type": "array", "items": { "type": "string", "minLength": 1 } },
                "subject": { "type": "string" },
                "body": { "type": "string" }
              }
            } }
          }
        },
        {
          "if": { "required": ["type"], "properties": { "type": { "const": "SET_PRIORITY" } } },
          "then": {
            "required": ["config"],
            "properties": { "config": {
              "type": "object",
              "required": ["priority"],
              "properties": { "priority": { "enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"] } }
            } }
          }
        },
        {
          "if": { "required": ["type"], "properties": { "type": { "const": "ASSIGN_USER" } } },
          "then": {
            "required": ["config"],
            "properties": { "config": {
              "type": "object",
              "required": ["userId"],
              "properties": { "userId": { "type": "string", "minLength": 1 } }
            } }
          }
        },
        {
          "if": { "required": ["type"], "properties": { "type": { "const": "CREATE_NOTIFICATION" } } },
          "then": {
            "required": ["config"],
            "properties": { "config": {
              "type": "object",
              "properties": {
                "title": { "type": "string" },
                "message": { "type": "string" },
                "userIds": { "type": ["array", "null"], "items": { "type": "string" } },
                "priority": { "enum": ["LOW", "NORMAL", "HIGH", "URGENT", ""] },
                "actionUrl": { "type": "string" }
              }
            } }
          }
        },
        {
          "if": { "required": ["type"], "properties": { "type": { "const": "SET_STATUS" } } },
          "then": {
            "required": ["config"],
            "properties": { "config": {
              "type": "object",
              "required": ["status"],
              "properties": { "status": { "enum": ["NEW", "UNDER_REVIEW", "RESOLVED", "CLOSED"] } }
            } }
          }
        }
      ]
    }
  }
}`

// JSONSchemaValidator implements Validator. It is safe for concurrent use.
type JSONSchemaValidator struct {
	triggerSchema *jsonschema.Schema
	actionsSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the automation document schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, doc := range map[string]string{
		triggerSchemaURL: triggerSchemaJSON,
		actionsSchemaURL: actionsSchemaJSON,
	} {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	trigger, err := c.Compile(triggerSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile trigger schema: %w", err)
	}
	actions, err := c.Compile(actionsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile actions schema: %w", err)
	}

	return &JSONSchemaValidator{triggerSchema: trigger, actionsSchema: actions}, nil
}

// DecodeTrigger validates and decodes a trigger_conditions document.
// A missing logic defaults to AND.
func (v *JSONSchemaValidator) DecodeTrigger(raw json.RawMessage) (*schema.TriggerSpec, error) {
	res := &schema.ValidationResult{}
	spec := v.decodeTrigger(raw, res)
	if err := res.ToError(); err != nil {
		return nil, err
	}
	return spec, nil
}

// DecodeActions validates and decodes an actions or escalation_actions
// document. An empty or null document decodes to no actions.
func (v *JSONSchemaValidator) DecodeActions(document string, raw json.RawMessage) ([]schema.ActionParams, error) {
	res := &schema.ValidationResult{}
	params := v.decodeActions(document, raw, res)
	if err := res.ToError(); err != nil {
		return nil, err
	}
	return params, nil
}

// Lint checks all three documents of an automation and reports every issue
// instead of stopping at the first.
func (v *JSONSchemaValidator) Lint(a *store.Automation) *schema.ValidationResult {
	res := &schema.ValidationResult{}

	if spec := v.decodeTrigger(a.TriggerConditions, res); spec != nil && len(spec.Conditions) == 0 {
		res.AddWarning(DocTrigger, "/conditions", "no conditions: automation matches every submission")
	}

	actions := v.decodeActions(DocActions, a.Actions, res)
	if len(actions) == 0 {
		res.AddWarning(DocActions, "/actions", "automation has no actions")
	}
	lintActions(DocActions, actions, res)

	escalation := v.decodeActions(DocEscalationActions, a.EscalationActions, res)
	lintActions(DocEscalationActions, escalation, res)

	if a.EscalationEnabled {
		if a.EscalationHours <= 0 {
			res.AddError(DocEscalationActions, "/", fmt.Sprintf("escalation hours must be positive, got %d", a.EscalationHours))
		}
		if len(escalation) == 0 {
			res.AddWarning(DocEscalationActions, "/actions", "escalation enabled with no escalation actions")
		}
	}
	return res
}

func (v *JSONSchemaValidator) decodeTrigger(raw json.RawMessage, res *schema.ValidationResult) *schema.TriggerSpec {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		res.AddError(DocTrigger, "/", "document is empty")
		return nil
	}
	if !v.validate(v.triggerSchema, DocTrigger, raw, res) {
		return nil
	}

	var spec schema.TriggerSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		res.AddError(DocTrigger, "/", err.Error())
		return nil
	}
	if spec.Logic == "" {
		spec.Logic = schema.LogicAnd
	}
	return &spec
}

func (v *JSONSchemaValidator) decodeActions(document string, raw json.RawMessage, res *schema.ValidationResult) []schema.ActionParams {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if !v.validate(v.actionsSchema, document, raw, res) {
		return nil
	}

	var spec schema.ActionSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		res.AddError(document, "/", err.Error())
		return nil
	}

	before := len(res.Errors)
	params := make([]schema.ActionParams, 0, len(spec.Actions))
	for i, def := range spec.Actions {
		p, err := schema.DecodeAction(def)
		if err != nil {
			res.AddError(document, fmt.Sprintf("/actions/%d", i), err.Error())
			continue
		}
		params = append(params, p)
	}
	if len(res.Errors) > before {
		return nil
	}
	return params
}

// validate reports whether raw satisfies sch, recording one issue per
// violated leaf constraint.
func (v *JSONSchemaValidator) validate(sch *jsonschema.Schema, document string, raw []byte, res *schema.ValidationResult) bool {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		res.AddError(document, "/", "invalid JSON: "+err.Error())
		return false
	}
	if err := sch.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			res.AddError(document, violation.path, violation.message)
		}
		return false
	}
	return true
}

// lintActions flags recipients and queries that will never resolve.
func lintActions(document string, params []schema.ActionParams, res *schema.ValidationResult) {
	for i, p := range params {
		email, ok := p.(*schema.SendEmail)
		if !ok {
			continue
		}
		path := fmt.Sprintf("/actions/%d/config/to", i)
		if len(email.To) == 0 {
			res.AddWarning(document, path, "no recipients")
		}
		for _, to := range email.To {
			switch {
			case strings.HasPrefix(to, "jq:"):
				if _, err := gojq.Parse(strings.TrimPrefix(to, "jq:")); err != nil {
					res.AddError(document, path, fmt.Sprintf("recipient query %q: %s", to, err.Error()))
				}
			case strings.HasPrefix(to, "field:"):
				if strings.TrimPrefix(to, "field:") == "" {
					res.AddError(document, path, "recipient field reference is empty")
				}
			case !strings.Contains(to, "@"):
				res.AddWarning(document, path, fmt.Sprintf("recipient %q is not an email address and will be skipped", to))
			}
		}
	}
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf errors
// with their instance locations.
func collectViolations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "/", message: err.Error()}}
	}
	return walkViolations(verr)
}

func walkViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{
			path:    "/" + strings.Join(verr.InstanceLocation, "/"),
			message: verr.Error(),
		}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, walkViolations(cause)...)
	}
	return out
}

var _ Validator = (*JSONSchemaValidator)(nil)
