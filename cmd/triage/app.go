package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rendis/triage/internal/actions"
	"github.com/rendis/triage/internal/engine"
	"github.com/rendis/triage/internal/escalation"
	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/notify"
	"github.com/rendis/triage/internal/rules"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/internal/validation"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg       Config
	logger    *slog.Logger
	level     *slog.LevelVar
	logCloser io.Closer

	store     *store.LibSQLStore
	validator *validation.JSONSchemaValidator
	pool      *engine.WorkerPool
	runner    *engine.Runner
	sweeper   *escalation.Sweeper
}

// newApp opens the store and wires logger, engines and collaborators.
// Schema migrations are not applied here.
func newApp(cfg Config) (*app, error) {
	level := new(slog.LevelVar)
	opts := cfg.loggingOptions()
	opts.LevelVar = level
	logger, logCloser, err := logging.Setup(opts)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger, level: level, logCloser: logCloser}
	if err := a.wire(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	loc, err := a.cfg.location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", a.cfg.Timezone, err)
	}

	if a.cfg.dsn() == "file:"+a.cfg.DBPath {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o700); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	a.store, err = store.NewLibSQLStore(a.cfg.dsn())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	a.validator, err = validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("cel engine: %w", err)
	}
	evaluator := rules.NewEvaluator(celEngine, expressions.NewExprEngine(), a.logger)
	compiler := engine.NewCompiler(a.validator, evaluator)

	var mailer notify.Mailer
	if a.cfg.smtpEnabled() {
		mailer, err = notify.NewSMTPMailer(a.cfg.smtpConfig())
		if err != nil {
			return err
		}
	} else {
		a.logger.Warn("smtp not configured; emails are only logged")
		mailer = notify.NewLogMailer(a.logger)
	}

	executor := actions.NewExecutor(actions.ExecutorDeps{
		Store:        a.store,
		Mailer:       mailer,
		Interpolator: expressions.NewInterpolator(loc),
		JQ:           expressions.NewGoJQEngine(),
		Logger:       a.logger,
	})

	a.pool = engine.NewWorkerPool(a.cfg.PoolSize, engine.WithPoolLogger(a.logger))
	a.runner = engine.NewRunner(engine.RunnerDeps{
		Store:    a.store,
		Compiler: compiler,
		Executor: executor,
		Logger:   a.logger,
	})
	a.sweeper = escalation.NewSweeper(escalation.SweeperDeps{
		Store:    a.store,
		Compiler: compiler,
		Executor: executor,
		Pool:     a.pool,
		Logger:   a.logger,
	})
	return nil
}

func (a *app) migrate(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// close drains the pool, then closes the store and the log file.
func (a *app) close() {
	if a.pool != nil {
		a.pool.Shutdown()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}
