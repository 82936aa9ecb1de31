package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	submissionIDKey ctxKey = iota
	automationIDKey
	actionTypeKey
)

// WithSubmissionID returns a context with the submission ID set.
func WithSubmissionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, submissionIDKey, id)
}

// WithAutomationID returns a context with the automation ID set.
func WithAutomationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, automationIDKey, id)
}

// WithActionType returns a context with the action type set.
func WithActionType(ctx context.Context, actionType string) context.Context {
	return context.WithValue(ctx, actionTypeKey, actionType)
}

// SubmissionID extracts the submission ID from the context, or "" if absent.
func SubmissionID(ctx context.Context) string {
	v, _ := ctx.Value(submissionIDKey).(string)
	return v
}

// AutomationID extracts the automation ID from the context, or "" if absent.
func AutomationID(ctx context.Context) string {
	v, _ := ctx.Value(automationIDKey).(string)
	return v
}

// ActionType extracts the action type from the context, or "" if absent.
func ActionType(ctx context.Context) string {
	v, _ := ctx.Value(actionTypeKey).(string)
	return v
}

// WithIDs sets all three correlation values on the context at once.
func WithIDs(ctx context.Context, submissionID, automationID, actionType string) context.Context {
	ctx = WithSubmissionID(ctx, submissionID)
	ctx = WithAutomationID(ctx, automationID)
	ctx = WithActionType(ctx, actionType)
	return ctx
}

// correlationAttrs returns the non-empty correlation values of ctx.
func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := SubmissionID(ctx); v != "" {
		attrs = append(attrs, slog.String("submission_id", v))
	}
	if v := AutomationID(ctx); v != "" {
		attrs = append(attrs, slog.String("automation_id", v))
	}
	if v := ActionType(ctx); v != "" {
		attrs = append(attrs, slog.String("action_type", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
