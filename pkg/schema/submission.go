package schema

// Status is the lifecycle state of a submission.
// The engine does not enforce transition legality; SET_STATUS may move
// between any two values.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusClosed      Status = "CLOSED"
)

// OpenStatuses are the states the escalation sweep considers unresolved.
var OpenStatuses = []Status{StatusNew, StatusUnderReview}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusUnderReview, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsOpen reports whether s is in OpenStatuses.
func (s Status) IsOpen() bool {
	return s == StatusNew || s == StatusUnderReview
}

// Priority is the triage priority of a submission. The zero value means unset.
type Priority string

const (
	PriorityUnset    Priority = ""
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Valid reports whether p is a settable priority (unset excluded).
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Audit action labels written by the engine.
const (
	AuditPrioritySet = "PRIORITY_SET_BY_AUTOMATION"
	AuditAssigned    = "ASSIGNED_BY_AUTOMATION"
	AuditStatusSet   = "STATUS_SET_BY_AUTOMATION"
)

// Notification types and priorities.
const (
	NotificationTypeAutomation = "AUTOMATION"
	NotificationTypeAssignment = "ASSIGNMENT"

	NotificationPriorityLow    = "LOW"
	NotificationPriorityNormal = "NORMAL"
	NotificationPriorityHigh   = "HIGH"
	NotificationPriorityUrgent = "URGENT"
)
