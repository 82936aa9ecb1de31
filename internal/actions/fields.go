package actions

import (
	"context"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

func (e *Executor) setPriority(ctx context.Context, automationID string, a *schema.SetPriority, sub *store.Submission) error {
	if !a.Priority.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid priority %q", a.Priority)
	}
	priority := a.Priority
	if err := e.store.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Priority: &priority}); err != nil {
		return storeFailed("update priority", err)
	}
	return e.audit(ctx, automationID, sub.ID, schema.AuditPrioritySet, string(sub.Priority), string(priority))
}

func (e *Executor) setStatus(ctx context.Context, automationID string, a *schema.SetStatus, sub *store.Submission) error {
	if !a.Status.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid status %q", a.Status)
	}
	status := a.Status
	if err := e.store.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{Status: &status}); err != nil {
		return storeFailed("update status", err)
	}
	return e.audit(ctx, automationID, sub.ID, schema.AuditStatusSet, string(sub.Status), string(status))
}

// assignUser sets the assignee, records the change and notifies the
// assignee.
func (e *Executor) assignUser(ctx context.Context, automationID string, a *schema.AssignUser, sub *store.Submission) error {
	if a.UserID == "" {
		return schema.NewError(schema.ErrCodeValidation, "assign user: empty user id")
	}
	userID := a.UserID
	now := e.now()
	if err := e.store.UpdateSubmission(ctx, sub.ID, store.SubmissionUpdate{
		AssignedUserID: &userID,
		AssignedAt:     &now,
	}); err != nil {
		return storeFailed("assign user", err)
	}
	if err := e.audit(ctx, automationID, sub.ID, schema.AuditAssigned, sub.AssignedUserID, userID); err != nil {
		return err
	}

	n := &store.Notification{
		ID:              e.newID(),
		TenantID:        sub.TenantID,
		RecipientUserID: userID,
		SubmissionID:    sub.ID,
		Type:            schema.NotificationTypeAssignment,
		Title:           "Submission assigned to you",
		Message:         "An automation assigned submission " + sub.ID + " to you.",
		Priority:        schema.NotificationPriorityNormal,
		ActionURL:       submissionURL(sub.ID),
		CreatedAt:       now,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return storeFailed("notify assignee", err)
	}
	return nil
}

func (e *Executor) audit(ctx context.Context, automationID, submissionID, action, oldValue, newValue string) error {
	rec := &store.AuditRecord{
		SubmissionID: submissionID,
		Action:       action,
		OldValue:     oldValue,
		NewValue:     newValue,
		AutomationID: automationID,
		At:           e.now(),
	}
	if err := e.store.AppendAudit(ctx, rec); err != nil {
		return storeFailed("append audit", err)
	}
	return nil
}
