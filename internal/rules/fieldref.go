package rules

import (
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// FieldRef is a condition's resolved target: either a reserved submission
// header field or a user-defined field value. Resolved once when the rule is
// compiled so evaluation never inspects the raw field name again.
type FieldRef interface {
	// Resolve returns the current value and whether it is present.
	Resolve(sub *store.Submission) (any, bool)
	String() string
	fieldRef()
}

// Reserved addresses a submission header field.
type Reserved int

const (
	ReservedStatus Reserved = iota
	ReservedPriority
)

// UserField addresses a template field by id.
type UserField string

// ParseFieldRef maps "_status" and "_priority" to Reserved refs; any other
// name is a UserField.
func ParseFieldRef(name string) FieldRef {
	switch name {
	case schema.FieldStatus:
		return ReservedStatus
	case schema.FieldPriority:
		return ReservedPriority
	default:
		return UserField(name)
	}
}

func (r Reserved) Resolve(sub *store.Submission) (any, bool) {
	switch r {
	case ReservedStatus:
		return string(sub.Status), true
	case ReservedPriority:
		if sub.Priority == schema.PriorityUnset {
			return nil, true
		}
		return string(sub.Priority), true
	}
	return nil, false
}

func (r Reserved) String() string {
	if r == ReservedPriority {
		return schema.FieldPriority
	}
	return schema.FieldStatus
}

func (Reserved) fieldRef() {}

func (f UserField) Resolve(sub *store.Submission) (any, bool) {
	fv, ok := sub.Lookup(string(f))
	if !ok {
		return nil, false
	}
	return fv.Value, true
}

func (f UserField) String() string { return string(f) }

func (UserField) fieldRef() {}
