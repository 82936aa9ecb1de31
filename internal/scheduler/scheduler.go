package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/triage/internal/escalation"
)

// DefaultSpec runs the escalation sweep every 15 minutes.
const DefaultSpec = "*/15 * * * *"

// Sweeper is the interface the scheduler drives. Satisfied by
// escalation.Sweeper.
type Sweeper interface {
	Sweep(ctx context.Context) *escalation.Report
}

// Scheduler runs the escalation sweep on a cron schedule. A tick that fires
// while the previous sweep is still running is skipped.
type Scheduler struct {
	spec    string
	sweeper Sweeper
	parser  cron.Parser
	logger  *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	inflightMu sync.Mutex
	inflight   bool
}

// NewScheduler validates spec and creates a Scheduler. An empty spec uses
// DefaultSpec. Standard five-field expressions and descriptors such as
// "@every 10m" are accepted.
func NewScheduler(spec string, sweeper Sweeper, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		spec:    spec,
		sweeper: sweeper,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:  logger,
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start registers the sweep job and starts the cron loop. Sweeps run with a
// context derived from ctx and are canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	clog := cronLogger{s.logger}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	if _, err := c.AddFunc(s.spec, func() { s.RunNow(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("register sweep: %w", err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("scheduler started", slog.String("schedule", s.spec))
	return nil
}

// RunNow runs one sweep synchronously unless one is already in flight.
// It reports whether a sweep ran.
func (s *Scheduler) RunNow(ctx context.Context) bool {
	if !s.tryAcquire() {
		s.logger.WarnContext(ctx, "sweep skipped: previous sweep still running")
		return false
	}
	defer s.release()

	report := s.sweeper.Sweep(ctx)
	if report != nil && report.Failed > 0 {
		s.logger.WarnContext(ctx, "sweep finished with failed actions", slog.Int64("failed", report.Failed))
	}
	return true
}

// NextRun returns the next scheduled sweep time, or the zero time when the
// scheduler is not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels any running sweep, stops the cron loop and waits for the
// running job to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.cron = nil
	s.cancel = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// tryAcquire returns true and marks a sweep as in flight if none is running.
func (s *Scheduler) tryAcquire() bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *Scheduler) release() {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight = false
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
