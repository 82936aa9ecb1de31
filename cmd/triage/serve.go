package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rendis/triage/internal/intake"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/scheduler"
)

// runServe migrates the database, starts the sweep scheduler and, when
// brokers are configured, the Kafka intake. SIGHUP reloads configuration;
// SIGINT and SIGTERM shut down.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "env file loaded before reading TRIAGE_*/SMTP_* variables")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := loadConfig(*envFile)
	a, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()
	logger := a.logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.migrate(ctx); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}

	sched, err := scheduler.NewScheduler(cfg.SweepCron, a.sweeper, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	if err := sched.Start(ctx); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		return 1
	}
	defer sched.Stop()
	logger.Info("next escalation sweep", slog.Time("at", sched.NextRun()))

	intakeErr := make(chan error, 1)
	if cfg.intakeEnabled() {
		consumer, err := intake.NewConsumer(cfg.consumerConfig(), logger)
		if err != nil {
			logger.Error("startup failed", slog.String("error", err.Error()))
			return 1
		}
		defer consumer.Close()
		handler := intake.NewHandler(a.runner, a.pool, logger)
		go func() { intakeErr <- consumer.Run(ctx, handler) }()
	} else {
		logger.Info("kafka intake disabled (TRIAGE_KAFKA_BROKERS not set)")
	}

	if err := writePIDFile(); err != nil {
		logger.Warn("pid file not written", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		select {
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				cfg = reloadConfig(a, cfg, *envFile)
				continue
			}
			logger.Info("shutting down", slog.String("signal", sig.String()))
			return 0
		case err := <-intakeErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("intake stopped", slog.String("error", err.Error()))
				return 1
			}
			return 0
		}
	}
}

// reloadConfig re-reads configuration. The log level is applied in place;
// other changes are reported as requiring a restart.
func reloadConfig(a *app, old Config, envFile string) Config {
	next := loadConfig(envFile)
	d := diffConfigs(old, next)

	if d.LogLevelChanged {
		level, err := logging.ParseLevel(next.LogLevel)
		if err != nil {
			a.logger.Warn("config reload: keeping log level", slog.String("error", err.Error()))
			next.LogLevel = old.LogLevel
		} else {
			a.level.Set(level)
			a.logger.Info("config reload: log level changed", slog.String("level", next.LogLevel))
		}
	}
	if len(d.RestartNeeded) > 0 {
		a.logger.Warn("config reload: restart required to apply changes", slog.Any("fields", d.RestartNeeded))
	}
	return next
}

func writePIDFile() error {
	if err := os.MkdirAll(triageDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
