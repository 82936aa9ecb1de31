package intake

import (
	"encoding/json"
	"strings"

	"github.com/rendis/triage/pkg/schema"
)

// Event is the payload of a trigger message:
//
//	{"submission_id": "...", "trigger": "ON_SUBMIT"}
//
// The trigger is case-insensitive and defaults to ON_SUBMIT.
type Event struct {
	SubmissionID string             `json:"submission_id"`
	Trigger      schema.TriggerKind `json:"trigger"`
}

// DecodeEvent parses and normalizes a trigger message value.
func DecodeEvent(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, schema.NewError(schema.ErrCodeValidation, "trigger event is not valid JSON").WithCause(err)
	}
	ev.SubmissionID = strings.TrimSpace(ev.SubmissionID)
	if ev.SubmissionID == "" {
		return Event{}, schema.NewError(schema.ErrCodeValidation, "trigger event has no submission_id")
	}
	kind, err := ParseTrigger(string(ev.Trigger))
	if err != nil {
		return Event{}, err
	}
	ev.Trigger = kind
	return ev, nil
}

// ParseTrigger maps "on_submit", "ON_STATUS_CHANGE" and the like to a
// TriggerKind. An empty string is ON_SUBMIT.
func ParseTrigger(s string) (schema.TriggerKind, error) {
	switch schema.TriggerKind(strings.ToUpper(strings.TrimSpace(s))) {
	case "", schema.TriggerOnSubmit:
		return schema.TriggerOnSubmit, nil
	case schema.TriggerOnStatusChange:
		return schema.TriggerOnStatusChange, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown trigger %q", s).
			WithDetails(map[string]any{"allowed": []string{string(schema.TriggerOnSubmit), string(schema.TriggerOnStatusChange)}})
	}
}
