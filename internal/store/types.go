package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/triage/pkg/schema"
)

// DefaultEscalationHours applies when an automation stores no threshold.
const DefaultEscalationHours = 24

// Submission is one filled-in instance of a form template.
type Submission struct {
	ID             string          `json:"id"`
	TemplateID     string          `json:"template_id"`
	TenantID       string          `json:"tenant_id"`
	Status         schema.Status   `json:"status"`
	Priority       schema.Priority `json:"priority,omitempty"`
	AssignedUserID string          `json:"assigned_user_id,omitempty"`
	AssignedAt     *time.Time      `json:"assigned_at,omitempty"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FieldValues    []FieldValue    `json:"field_values,omitempty"`
}

// FieldValue is the answer to one template field.
type FieldValue struct {
	FieldID      string `json:"field_id"`
	Value        any    `json:"value"`
	DisplayValue string `json:"display_value,omitempty"`
	Field        Field  `json:"field"`
}

// Field describes a template field.
type Field struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	Order      int    `json:"order"`
}

// Lookup returns the value for fieldID, or nil and false when the submission has none.
func (s *Submission) Lookup(fieldID string) (*FieldValue, bool) {
	for i := range s.FieldValues {
		if s.FieldValues[i].FieldID == fieldID {
			return &s.FieldValues[i], true
		}
	}
	return nil, false
}

// Clone returns a deep-enough copy for read-only snapshots: header fields and
// the field value slice are copied; field payloads are shared.
func (s *Submission) Clone() *Submission {
	cp := *s
	if s.AssignedAt != nil {
		at := *s.AssignedAt
		cp.AssignedAt = &at
	}
	cp.FieldValues = append([]FieldValue(nil), s.FieldValues...)
	return &cp
}

// Document renders the submission as a plain JSON-like map for expression
// engines and jq queries.
func (s *Submission) Document() map[string]any {
	fields := make(map[string]any, len(s.FieldValues))
	for _, fv := range s.FieldValues {
		entry := map[string]any{
			"value": fv.Value,
			"label": fv.Field.Label,
			"type":  fv.Field.Type,
		}
		if fv.DisplayValue != "" {
			entry["displayValue"] = fv.DisplayValue
		}
		fields[fv.FieldID] = entry
	}
	doc := map[string]any{
		"id":             s.ID,
		"templateId":     s.TemplateID,
		"tenantId":       s.TenantID,
		"status":         string(s.Status),
		"priority":       string(s.Priority),
		"assignedUserId": s.AssignedUserID,
		"submittedAt":    s.SubmittedAt.UTC().Format(time.RFC3339),
		"fields":         fields,
	}
	return doc
}

// Automation is a stored rule bound to a template. The three documents are
// kept raw; they are validated and decoded by the engine at load time.
type Automation struct {
	ID                string          `json:"id"`
	TemplateID        string          `json:"template_id"`
	Name              string          `json:"name"`
	Active            bool            `json:"active"`
	Order             int             `json:"order"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`
	Actions           json.RawMessage `json:"actions"`
	EscalationEnabled bool            `json:"escalation_enabled"`
	EscalationHours   int             `json:"escalation_hours"`
	EscalationActions json.RawMessage `json:"escalation_actions,omitempty"`
	ExecutionCount    int64           `json:"execution_count"`
	LastExecutedAt    *time.Time      `json:"last_executed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AuditRecord is an append-only entry in a submission's history.
type AuditRecord struct {
	ID           int64     `json:"id"`
	SubmissionID string    `json:"submission_id"`
	Action       string    `json:"action"`
	OldValue     string    `json:"old_value,omitempty"`
	NewValue     string    `json:"new_value,omitempty"`
	AutomationID string    `json:"automation_id,omitempty"`
	At           time.Time `json:"at"`
}

// Notification is an in-app message for one user.
type Notification struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	RecipientUserID string    `json:"recipient_user_id"`
	SubmissionID    string    `json:"submission_id,omitempty"`
	Type            string    `json:"type"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Priority        string    `json:"priority"`
	Read            bool      `json:"read"`
	ActionURL       string    `json:"action_url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is a tenant member that can be assigned or notified.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Filter and update types ---

// SubmissionUpdate specifies the mutable fields of a submission.
// Only non-nil fields are written.
type SubmissionUpdate struct {
	Status         *schema.Status   `json:"status,omitempty"`
	Priority       *schema.Priority `json:"priority,omitempty"`
	AssignedUserID *string          `json:"assigned_user_id,omitempty"`
	AssignedAt     *time.Time       `json:"assigned_at,omitempty"`
}

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	TemplateID string          `json:"template_id,omitempty"`
	Statuses   []schema.Status `json:"statuses,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// AutomationFilter specifies criteria for listing automations.
// Results are always ordered by Order ascending.
type AutomationFilter struct {
	TemplateID     string `json:"template_id,omitempty"`
	ActiveOnly     bool   `json:"active_only,omitempty"`
	EscalationOnly bool   `json:"escalation_only,omitempty"`
}

// NotificationFilter specifies criteria for listing notifications.
type NotificationFilter struct {
	RecipientUserID string `json:"recipient_user_id,omitempty"`
	SubmissionID    string `json:"submission_id,omitempty"`
	UnreadOnly      bool   `json:"unread_only,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}
