package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rendis/triage/internal/engine"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

// SweeperDeps holds the collaborators of a Sweeper.
type SweeperDeps struct {
	Store    store.Store
	Compiler *engine.Compiler
	Executor engine.ActionExecutor
	Pool     *engine.WorkerPool // nil runs submissions inline
	Logger   *slog.Logger
	Now      func() time.Time
}

// Sweeper re-checks open submissions against escalating automations and
// fires escalation actions once the elapsed time threshold is reached.
//
// No "already escalated" marker is kept: every sweep that finds an eligible,
// still-open submission fires again.
type Sweeper struct {
	store    store.Store
	compiler *engine.Compiler
	executor engine.ActionExecutor
	pool     *engine.WorkerPool
	logger   *slog.Logger
	now      func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	Automations int   `json:"automations"`
	Examined    int64 `json:"examined"`
	Escalated   int64 `json:"escalated"`
	Failed      int64 `json:"failed"`
	Skipped     int   `json:"skipped"` // malformed or unloadable automations
}

// NewSweeper creates a Sweeper.
func NewSweeper(deps SweeperDeps) *Sweeper {
	s := &Sweeper{
		store:    deps.Store,
		compiler: deps.Compiler,
		executor: deps.Executor,
		pool:     deps.Pool,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Sweep runs one escalation pass. Automations are processed in ascending
// order; the open submissions of one automation are processed concurrently
// through the pool and the next automation starts after they finish.
// Sweep does not update execution counters and never returns an error.
func (s *Sweeper) Sweep(ctx context.Context) *Report {
	report := &Report{}
	start := s.now()

	automations, err := s.store.ListAutomations(ctx, store.AutomationFilter{
		ActiveOnly:     true,
		EscalationOnly: true,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep aborted: list automations", slog.String("error", err.Error()))
		return report
	}
	report.Automations = len(automations)

	for _, a := range automations {
		if ctx.Err() != nil {
			s.logger.WarnContext(ctx, "sweep interrupted", slog.String("error", ctx.Err().Error()))
			break
		}
		s.sweepAutomation(ctx, a, report)
	}

	s.logger.InfoContext(ctx, "escalation sweep completed",
		slog.Int("automations", report.Automations),
		slog.Int64("examined", report.Examined),
		slog.Int64("escalated", report.Escalated),
		slog.Int64("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	return report
}

func (s *Sweeper) sweepAutomation(ctx context.Context, a *store.Automation, report *Report) {
	ctx = logging.WithAutomationID(ctx, a.ID)
	defer func() {
		if rec := recover(); rec != nil {
			report.Skipped++
			s.logger.ErrorContext(ctx, "escalation automation panicked",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	compiled, err := s.compiler.CompileEscalation(a)
	if err != nil {
		report.Skipped++
		s.logger.WarnContext(ctx, "escalation skipped: malformed rule", slog.String("error", err.Error()))
		return
	}

	subs, err := s.store.ListSubmissions(ctx, store.SubmissionFilter{
		TemplateID: a.TemplateID,
		Statuses:   schema.OpenStatuses,
	})
	if err != nil {
		report.Skipped++
		s.logger.ErrorContext(ctx, "escalation skipped: list submissions", slog.String("error", err.Error()))
		return
	}

	threshold := time.Duration(a.EscalationHours) * time.Hour
	now := s.now()

	var group *engine.Group
	if s.pool != nil {
		group = s.pool.Group()
		// Runs before the recover above, so a panic below still waits for
		// the escalations already submitted.
		defer group.Wait()
	}
	for _, sub := range subs {
		atomic.AddInt64(&report.Examined, 1)
		if !sub.Status.IsOpen() || now.Sub(sub.SubmittedAt) < threshold {
			continue
		}

		run := func(ctx context.Context) error {
			return s.escalate(ctx, compiled, sub, now, report)
		}
		if group == nil {
			_ = run(ctx)
			continue
		}
		if err := group.Submit(ctx, engine.Task{Label: "escalate:" + sub.ID, Run: run}); err != nil {
			atomic.AddInt64(&report.Failed, 1)
			s.logger.ErrorContext(ctx, "escalation not scheduled",
				slog.String("submission_id", sub.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// escalate re-evaluates the ordinary conditions of the automation against
// one overdue submission and runs the escalation actions on a match.
func (s *Sweeper) escalate(ctx context.Context, ca *engine.CompiledAutomation, sub *store.Submission, now time.Time, report *Report) error {
	ctx = logging.WithSubmissionID(ctx, sub.ID)
	if !s.compiler.Match(ctx, ca, sub) {
		return nil
	}

	atomic.AddInt64(&report.Escalated, 1)
	elapsed := now.Sub(sub.SubmittedAt)
	s.logger.InfoContext(ctx, "escalating submission",
		slog.String("status", string(sub.Status)),
		slog.Float64("elapsed_hours", elapsed.Hours()),
		slog.Int("threshold_hours", ca.Automation.EscalationHours),
		slog.Int("actions", len(ca.Actions)),
	)

	snapshot := sub.Clone()
	_, failed := engine.RunActions(ctx, s.logger, s.executor, ca.Automation.ID, ca.Actions, snapshot)
	if failed > 0 {
		atomic.AddInt64(&report.Failed, int64(failed))
		return fmt.Errorf("%d escalation actions failed", failed)
	}
	return nil
}
