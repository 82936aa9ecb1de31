package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract consumed by the engine.
// All implementations must be safe for concurrent use.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error)
	UpdateSubmission(ctx context.Context, id string, update SubmissionUpdate) error

	// Automations (read-only to the engine apart from execution stats)
	CreateAutomation(ctx context.Context, a *Automation) error
	GetAutomation(ctx context.Context, id string) (*Automation, error)
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error)
	IncrementExecution(ctx context.Context, id string, at time.Time) error

	// Audit (append-only)
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, submissionID string) ([]*AuditRecord, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error)

	// Users
	UpsertUser(ctx context.Context, u *User) error
	ListActiveUsers(ctx context.Context, tenantID string) ([]*User, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
