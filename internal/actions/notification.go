package actions

import (
	"context"
	"errors"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// createNotification fans out one in-app notification per recipient. With
// no configured user ids every active user of the tenant is notified.
func (e *Executor) createNotification(ctx context.Context, a *schema.CreateNotification, sub *store.Submission) error {
	recipients := a.UserIDs
	if len(recipients) == 0 {
		users, err := e.store.ListActiveUsers(ctx, sub.TenantID)
		if err != nil {
			return storeFailed("list active users", err)
		}
		for _, u := range users {
			recipients = append(recipients, u.ID)
		}
	}
	if len(recipients) == 0 {
		e.logger.InfoContext(ctx, "notification skipped: no recipients", "tenant_id", sub.TenantID)
		return nil
	}

	priority := a.Priority
	if priority == "" {
		priority = schema.NotificationPriorityNormal
	}
	actionURL := a.ActionURL
	if actionURL == "" {
		actionURL = submissionURL(sub.ID)
	}
	title := e.interp.Interpolate(a.Title, sub)
	message := e.interp.Interpolate(a.Message, sub)
	now := e.now()

	var errs []error
	for _, userID := range recipients {
		n := &store.Notification{
			ID:              e.newID(),
			TenantID:        sub.TenantID,
			RecipientUserID: userID,
			SubmissionID:    sub.ID,
			Type:            schema.NotificationTypeAutomation,
			Title:           title,
			Message:         message,
			Priority:        priority,
			ActionURL:       actionURL,
			CreatedAt:       now,
		}
		if err := e.store.CreateNotification(ctx, n); err != nil {
			e.logger.WarnContext(ctx, "notification failed", "recipient_user_id", userID, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return storeFailed("create notifications", errors.Join(errs...))
	}
	return nil
}
