package schema

import (
	"bytes"
	"encoding/json"
)

// ActionParams is the decoded, typed configuration of one action.
// The set of implementations is closed: SendEmail, SetPriority, AssignUser,
// CreateNotification and SetStatus.
type ActionParams interface {
	Type() ActionType
	sealed()
}

// SendEmail sends an interpolated email to each resolved recipient.
// Recipients are literal addresses, "field:<fieldId>" references, or
// "jq:<query>" queries over the submission document.
type SendEmail struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// SetPriority overwrites the submission priority.
type SetPriority struct {
	Priority Priority `json:"priority"`
}

// AssignUser assigns the submission and notifies the assignee.
type AssignUser struct {
	UserID string `json:"userId"`
}

// CreateNotification fans out an in-app notification. An empty UserIDs list
// targets every active user of the submission's tenant.
type CreateNotification struct {
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	UserIDs   []string `json:"userIds,omitempty"`
	Priority  string   `json:"priority,omitempty"`
	ActionURL string   `json:"actionUrl,omitempty"`
}

// SetStatus overwrites the submission status.
type SetStatus struct {
	Status Status `json:"status"`
}

func (*SendEmail) Type() ActionType          { return ActionSendEmail }
func (*SetPriority) Type() ActionType        { return ActionSetPriority }
func (*AssignUser) Type() ActionType         { return ActionAssignUser }
func (*CreateNotification) Type() ActionType { return ActionCreateNotification }
func (*SetStatus) Type() ActionType          { return ActionSetStatus }

func (*SendEmail) sealed()          {}
func (*SetPriority) sealed()        {}
func (*AssignUser) sealed()         {}
func (*CreateNotification) sealed() {}
func (*SetStatus) sealed()          {}

// DecodeAction converts an ActionDefinition into its typed params.
// Unknown fields in the config are ignored; unknown types are rejected.
func DecodeAction(def ActionDefinition) (ActionParams, error) {
	var p ActionParams
	switch def.Type {
	case ActionSendEmail:
		p = &SendEmail{}
	case ActionSetPriority:
		p = &SetPriority{}
	case ActionAssignUser:
		p = &AssignUser{}
	case ActionCreateNotification:
		p = &CreateNotification{}
	case ActionSetStatus:
		p = &SetStatus{}
	default:
		return nil, NewErrorf(ErrCodeMalformedRule, "unknown action type %q", def.Type)
	}

	cfg := bytes.TrimSpace(def.Config)
	if len(cfg) == 0 || bytes.Equal(cfg, []byte("null")) {
		cfg = []byte("{}")
	}
	if err := json.Unmarshal(cfg, p); err != nil {
		return nil, NewErrorf(ErrCodeMalformedRule, "decode %s config: %s", def.Type, err.Error()).WithCause(err)
	}
	return p, nil
}
