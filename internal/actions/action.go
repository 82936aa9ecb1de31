package actions

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/notify"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// Store is the subset of store.Store that actions write through.
type Store interface {
	UpdateSubmission(ctx context.Context, id string, update store.SubmissionUpdate) error
	AppendAudit(ctx context.Context, rec *store.AuditRecord) error
	CreateNotification(ctx context.Context, n *store.Notification) error
	ListActiveUsers(ctx context.Context, tenantID string) ([]*store.User, error)
}

// ExecutorDeps holds the collaborators of an Executor.
type ExecutorDeps struct {
	Store        Store
	Mailer       notify.Mailer
	Interpolator *expressions.Interpolator
	JQ           *expressions.GoJQEngine // resolves "jq:" recipients; nil disables them
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
}

// Executor runs one decoded action against a submission snapshot.
type Executor struct {
	store  Store
	mailer notify.Mailer
	interp *expressions.Interpolator
	jq     *expressions.GoJQEngine
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewExecutor creates an Executor, filling in defaults for optional deps.
func NewExecutor(deps ExecutorDeps) *Executor {
	e := &Executor{
		store:  deps.Store,
		mailer: deps.Mailer,
		interp: deps.Interpolator,
		jq:     deps.JQ,
		logger: deps.Logger,
		now:    deps.Now,
		newID:  deps.NewID,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.mailer == nil {
		e.mailer = notify.NewLogMailer(e.logger)
	}
	if e.interp == nil {
		e.interp = expressions.NewInterpolator(nil)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// Execute runs p for the submission snapshot sub. A failure, including a
// panic inside the handler, is logged and returned as an ACTION_FAILED
// error; it never propagates as a panic.
func (e *Executor) Execute(ctx context.Context, automationID string, p schema.ActionParams, sub *store.Submission) (err error) {
	ctx = logging.WithActionType(ctx, string(p.Type()))
	start := e.now()

	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeActionFailed, "%s panicked: %v", p.Type(), r).
				WithAutomation(automationID).
				WithDetails(map[string]any{"stack": string(debug.Stack())})
		}
		if err != nil {
			e.logger.ErrorContext(ctx, "action failed", "error", err)
			return
		}
		e.logger.DebugContext(ctx, "action completed", "duration_ms", e.now().Sub(start).Milliseconds())
	}()

	switch a := p.(type) {
	case *schema.SendEmail:
		err = e.sendEmail(ctx, a, sub)
	case *schema.SetPriority:
		err = e.setPriority(ctx, automationID, a, sub)
	case *schema.AssignUser:
		err = e.assignUser(ctx, automationID, a, sub)
	case *schema.CreateNotification:
		err = e.createNotification(ctx, a, sub)
	case *schema.SetStatus:
		err = e.setStatus(ctx, automationID, a, sub)
	default:
		err = fmt.Errorf("unsupported action %T", p)
	}
	if err != nil {
		return actionFailed(p.Type(), automationID, err)
	}
	return nil
}

func actionFailed(t schema.ActionType, automationID string, cause error) *schema.TriageError {
	return schema.NewErrorf(schema.ErrCodeActionFailed, "%s: %s", t, cause.Error()).
		WithAutomation(automationID).
		WithCause(cause)
}

func storeFailed(op string, err error) error {
	if _, ok := err.(*schema.TriageError); ok {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func submissionURL(id string) string {
	return "/submissions/" + id
}
