package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rendis/triage/internal/intake"
	"github.com/rendis/triage/internal/logging"
	"github.com/rendis/triage/internal/notify"
	"github.com/rendis/triage/internal/scheduler"
)

// Config holds all triage configuration.
// Priority: env vars > .env file > settings.json > defaults.
type Config struct {
	DBPath    string `json:"db_path"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	LogFile   string `json:"log_file,omitempty"`
	PoolSize  int    `json:"pool_size"`
	SweepCron string `json:"sweep_cron"`
	Timezone  string `json:"timezone"`

	KafkaBrokers []string `json:"kafka_brokers,omitempty"`
	KafkaGroup   string   `json:"kafka_group,omitempty"`
	KafkaTopic   string   `json:"kafka_topic,omitempty"`

	SMTPHost       string `json:"smtp_host,omitempty"`
	SMTPPort       int    `json:"smtp_port,omitempty"`
	SMTPUser       string `json:"smtp_user,omitempty"`
	SMTPPass       string `json:"-"`
	SMTPFrom       string `json:"smtp_from,omitempty"`
	SMTPSkipVerify bool   `json:"smtp_skip_verify,omitempty"`
}

func defaultConfig() Config {
	return Config{
		DBPath:     filepath.Join(triageDir(), "triage.db"),
		LogLevel:   "info",
		LogFormat:  "text",
		PoolSize:   10,
		SweepCron:  scheduler.DefaultSpec,
		Timezone:   "UTC",
		KafkaGroup: "triage",
		KafkaTopic: "submission-events",
		SMTPPort:   587,
	}
}

func triageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".triage"
	}
	return filepath.Join(home, ".triage")
}

func settingsPath() string {
	return filepath.Join(triageDir(), "settings.json")
}

func pidPath() string {
	return filepath.Join(triageDir(), "triage.pid")
}

// loadConfig layers settings.json, the env file and the process
// environment over the defaults. A missing settings or env file is ignored.
// Variables already set in the environment win over the env file.
func loadConfig(envFile string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: .env file.
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	// Layer 4: env vars override.
	if v := os.Getenv("TRIAGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TRIAGE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("TRIAGE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("TRIAGE_SWEEP_CRON"); v != "" {
		cfg.SweepCron = v
	}
	if v := os.Getenv("TRIAGE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("TRIAGE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("TRIAGE_KAFKA_GROUP"); v != "" {
		cfg.KafkaGroup = v
	}
	if v := os.Getenv("TRIAGE_KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTPUser = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
	if v := os.Getenv("SMTP_SKIP_VERIFY"); v != "" {
		cfg.SMTPSkipVerify = v == "true" || v == "1"
	}

	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// dsn turns db_path into a libSQL data source name. Plain paths become
// file URIs; URIs are passed through.
func (c Config) dsn() string {
	if strings.Contains(c.DBPath, ":") && !filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func (c Config) loggingOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// smtpEnabled reports whether outgoing mail goes over SMTP. Without a host,
// mail is only logged.
func (c Config) smtpEnabled() bool {
	return c.SMTPHost != ""
}

func (c Config) smtpConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:          c.SMTPHost,
		Port:          c.SMTPPort,
		User:          c.SMTPUser,
		Pass:          c.SMTPPass,
		From:          c.SMTPFrom,
		SkipTLSVerify: c.SMTPSkipVerify,
		Timeout:       10 * time.Second,
	}
}

func (c Config) intakeEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c Config) consumerConfig() intake.ConsumerConfig {
	return intake.ConsumerConfig{
		Brokers:  c.KafkaBrokers,
		GroupID:  c.KafkaGroup,
		Topics:   []string{c.KafkaTopic},
		ClientID: "triage-" + version,
	}
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.SweepCron != new.SweepCron {
		d.RestartNeeded = append(d.RestartNeeded, "sweep_cron")
	}
	if old.Timezone != new.Timezone {
		d.RestartNeeded = append(d.RestartNeeded, "timezone")
	}
	if strings.Join(old.KafkaBrokers, ",") != strings.Join(new.KafkaBrokers, ",") ||
		old.KafkaGroup != new.KafkaGroup || old.KafkaTopic != new.KafkaTopic {
		d.RestartNeeded = append(d.RestartNeeded, "kafka")
	}
	if old.smtpConfig() != new.smtpConfig() {
		d.RestartNeeded = append(d.RestartNeeded, "smtp")
	}
	return d
}
