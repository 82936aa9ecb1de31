package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// runInit writes settings.json from flags and asks a running server to
// reload it.
func runInit(args []string) int {
	def := defaultConfig()
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	dbPath := fs.String("db-path", "", "database path (default: ~/.triage/triage.db)")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", def.LogFormat, "log format: text, json")
	logFile := fs.String("log-file", "", "rotating log file (stderr only if empty)")
	poolSize := fs.Int("pool-size", def.PoolSize, "worker pool size")
	sweepCron := fs.String("sweep-cron", def.SweepCron, "escalation sweep schedule")
	timezone := fs.String("timezone", def.Timezone, "time zone for rendered timestamps")
	brokers := fs.String("kafka-brokers", "", "comma-separated Kafka brokers (intake disabled if empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	dir := triageDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		return 1
	}

	cfg := def
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	cfg.LogFile = *logFile
	cfg.PoolSize = *poolSize
	cfg.SweepCron = *sweepCron
	cfg.Timezone = *timezone
	cfg.KafkaBrokers = splitList(*brokers)
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		cfg.DBPath = filepath.Join(dir, "triage.db")
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("Config written to %s\n", path)

	signalRunningServer()
	return 0
}

func runReload() int {
	if !signalRunningServer() {
		fmt.Fprintln(os.Stderr, "No running server found")
		return 1
	}
	return 0
}

// signalRunningServer sends SIGHUP to a running triage server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
