package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// ActionExecutor runs one decoded action. Satisfied by actions.Executor.
type ActionExecutor interface {
	Execute(ctx context.Context, automationID string, p schema.ActionParams, sub *store.Submission) error
}

// Outcome classifies what happened to one automation during a run.
type Outcome string

const (
	OutcomeExecuted        Outcome = "executed"
	OutcomeTriggerMismatch Outcome = "trigger_mismatch"
	OutcomeNotMatched      Outcome = "not_matched"
	OutcomeMalformed       Outcome = "malformed"
	OutcomePanicked        Outcome = "panicked"
)

// AutomationResult reports one automation of a run.
type AutomationResult struct {
	AutomationID  string  `json:"automation_id"`
	Name          string  `json:"name"`
	Outcome       Outcome `json:"outcome"`
	ActionsRun    int     `json:"actions_run"`
	ActionsFailed int     `json:"actions_failed"`
	Error         string  `json:"error,omitempty"`
}

// RunReport summarizes one Trigger call. Err is set only when the run could
// not start (submission or automations failed to load).
type RunReport struct {
	SubmissionID string             `json:"submission_id"`
	Trigger      schema.TriggerKind `json:"trigger"`
	Automations  []AutomationResult `json:"automations"`
	Err          error              `json:"-"`
}

// Executed returns the number of automations whose actions ran.
func (r *RunReport) Executed() int {
	n := 0
	for _, a := range r.Automations {
		if a.Outcome == OutcomeExecuted {
			n++
		}
	}
	return n
}

// RunnerDeps holds the collaborators of a Runner.
type RunnerDeps struct {
	Store    store.Store
	Compiler *Compiler
	Executor ActionExecutor
	Logger   *slog.Logger
	Now      func() time.Time
}

// Runner evaluates a submission against the active automations of its
// template and executes the actions of every match.
type Runner struct {
	store    store.Store
	compiler *Compiler
	executor ActionExecutor
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	r := &Runner{
		store:    deps.Store,
		compiler: deps.Compiler,
		executor: deps.Executor,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Trigger runs every active automation of the submission's template, in
// ascending order, for the given trigger kind. Automations run one after
// another and each action completes before the next starts. All actions of
// the run see the submission as it was loaded at the start.
//
// Trigger never returns an error and never panics; failures are logged and
// reflected in the report.
func (r *Runner) Trigger(ctx context.Context, submissionID string, kind schema.TriggerKind) *RunReport {
	ctx = logging.WithSubmissionID(ctx, submissionID)
	report := &RunReport{SubmissionID: submissionID, Trigger: kind}

	defer func() {
		if rec := recover(); rec != nil {
			report.Err = fmt.Errorf("trigger panicked: %v", rec)
			r.logger.ErrorContext(ctx, "trigger panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	sub, err := r.store.GetSubmission(ctx, submissionID)
	if err != nil {
		report.Err = err
		r.logger.ErrorContext(ctx, "trigger aborted: load submission", slog.String("error", err.Error()))
		return report
	}

	automations, err := r.store.ListAutomations(ctx, store.AutomationFilter{
		TemplateID: sub.TemplateID,
		ActiveOnly: true,
	})
	if err != nil {
		report.Err = err
		r.logger.ErrorContext(ctx, "trigger aborted: list automations", slog.String("error", err.Error()))
		return report
	}

	snapshot := sub.Clone()
	for _, a := range automations {
		report.Automations = append(report.Automations, r.runAutomation(ctx, a, kind, snapshot))
	}

	r.logger.InfoContext(ctx, "trigger completed",
		slog.String("trigger", string(kind)),
		slog.Int("automations", len(automations)),
		slog.Int("executed", report.Executed()),
	)
	return report
}

// runAutomation is the per-automation fault boundary.
func (r *Runner) runAutomation(ctx context.Context, a *store.Automation, kind schema.TriggerKind, sub *store.Submission) (res AutomationResult) {
	ctx = logging.WithAutomationID(ctx, a.ID)
	res = AutomationResult{AutomationID: a.ID, Name: a.Name}

	defer func() {
		if rec := recover(); rec != nil {
			res.Outcome = OutcomePanicked
			res.Error = fmt.Sprint(rec)
			r.logger.ErrorContext(ctx, "automation panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	compiled, err := r.compiler.Compile(a)
	if err != nil {
		res.Outcome = OutcomeMalformed
		res.Error = err.Error()
		r.logger.WarnContext(ctx, "automation skipped: malformed rule", slog.String("error", err.Error()))
		return res
	}

	if compiled.Rule.Trigger != kind {
		res.Outcome = OutcomeTriggerMismatch
		return res
	}
	if !r.compiler.Match(ctx, compiled, sub) {
		res.Outcome = OutcomeNotMatched
		r.logger.DebugContext(ctx, "automation conditions not met")
		return res
	}

	res.Outcome = OutcomeExecuted
	res.ActionsRun, res.ActionsFailed = RunActions(ctx, r.logger, r.executor, a.ID, compiled.Actions, sub)

	if err := r.store.IncrementExecution(ctx, a.ID, r.now()); err != nil {
		r.logger.ErrorContext(ctx, "failed to record automation execution", slog.String("error", err.Error()))
	}

	r.logger.InfoContext(ctx, "automation executed",
		slog.String("name", a.Name),
		slog.Int("actions", res.ActionsRun),
		slog.Int("failed", res.ActionsFailed),
	)
	return res
}

// RunActions executes params in order against sub. A failing or panicking
// action is counted and the remaining actions still run. Shared by Trigger
// and the escalation sweep.
func RunActions(ctx context.Context, logger *slog.Logger, exec ActionExecutor, automationID string, params []schema.ActionParams, sub *store.Submission) (run, failed int) {
	for _, p := range params {
		run++
		if err := executeIsolated(ctx, logger, exec, automationID, p, sub); err != nil {
			failed++
		}
	}
	return run, failed
}

func executeIsolated(ctx context.Context, logger *slog.Logger, exec ActionExecutor, automationID string, p schema.ActionParams, sub *store.Submission) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeActionFailed, "%s panicked: %v", p.Type(), rec).WithAutomation(automationID)
			logger.ErrorContext(ctx, "action panicked",
				slog.String("action_type", string(p.Type())),
				slog.Any("panic", rec),
			)
		}
	}()
	return exec.Execute(ctx, automationID, p, sub)
}
