package schema

import "encoding/json"

// TriggerKind is the event class that causes automations to be evaluated.
type TriggerKind string

const (
	TriggerOnSubmit       TriggerKind = "ON_SUBMIT"
	TriggerOnStatusChange TriggerKind = "ON_STATUS_CHANGE"
)

// Logic combines the conditions of a trigger.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "notEquals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
	OpIsEmpty     Operator = "isEmpty"
	OpIsNotEmpty  Operator = "isNotEmpty"

	// OpCEL and OpExpr evaluate Value as a boolean expression over the
	// submission document instead of comparing a single field.
	OpCEL  Operator = "cel"
	OpExpr Operator = "expr"
)

// Reserved pseudo-field names addressing submission header fields.
const (
	FieldStatus   = "_status"
	FieldPriority = "_priority"
)

// TriggerSpec is the stored trigger_conditions document of an automation.
type TriggerSpec struct {
	Trigger    TriggerKind `json:"trigger"`
	Conditions []Condition `json:"conditions"`
	Logic      Logic       `json:"logic,omitempty"` // AND | OR (default: AND)
}

// Condition compares one field of a submission against a literal.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ActionType discriminates the closed set of automation actions.
type ActionType string

const (
	ActionSendEmail          ActionType = "SEND_EMAIL"
	ActionSetPriority        ActionType = "SET_PRIORITY"
	ActionAssignUser         ActionType = "ASSIGN_USER"
	ActionCreateNotification ActionType = "CREATE_NOTIFICATION"
	ActionSetStatus          ActionType = "SET_STATUS"
)

// ActionSpec is the stored actions / escalation_actions document.
type ActionSpec struct {
	Actions []ActionDefinition `json:"actions"`
}

// ActionDefinition is one undecoded entry of an ActionSpec.
type ActionDefinition struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}
