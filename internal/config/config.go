// Package config loads process settings. Precedence, lowest first: built-in
// defaults, the optional YAML file given with -config, environment variables
// for connection strings and secrets, explicit command-line flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sendlater/internal/notify"
	"sendlater/internal/store"
)

type Config struct {
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console | json

	Store    store.Config  `yaml:"store"`
	Notifier notify.Config `yaml:"notifier"`

	OverduePolicy  string `yaml:"overdue_policy"`  // reject | fire
	RecoveryPolicy string `yaml:"recovery_policy"` // fire | drop

	// AuditSpec is a cron expression for the store/registry audit. Empty disables it.
	AuditSpec string `yaml:"audit_spec"`

	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	Debug           bool          `yaml:"debug"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "console",
		Store: store.Config{
			Driver:     "sqlite",
			SQLitePath: "sendlater.db",
		},
		Notifier: notify.Config{
			Kind:           "log",
			WebhookTimeout: 30 * time.Second,
			SendmailPath:   "/usr/sbin/sendmail",
		},
		OverduePolicy:   "reject",
		RecoveryPolicy:  "fire",
		AuditSpec:       "@every 1m",
		MetricsEnabled:  true,
		MaxBodyBytes:    10 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration from args (without the program name) and
// the environment.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	applyEnv(&cfg, getenv)
	fs, path := newFlagSet(&cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if *path == "" {
		return cfg, nil
	}

	// Start again from the file so flags given on the command line still win.
	fileCfg := Default()
	b, err := os.ReadFile(*path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", *path, err)
	}
	applyEnv(&fileCfg, getenv)
	fs, _ = newFlagSet(&fileCfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return fileCfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Store.RedisURL, "REDIS_URL")
	set(&cfg.Store.PostgresDSN, "DATABASE_URL")
	set(&cfg.Notifier.ResendAPIKey, "RESEND_API_KEY")
	set(&cfg.Notifier.From, "SENDLATER_FROM")
}

// newFlagSet binds every flag to cfg, using cfg's current values as defaults.
func newFlagSet(cfg *Config) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("sendlater", flag.ContinueOnError)
	path := fs.String("config", "", "YAML config file")

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")

	fs.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "task store driver (sqlite, redis, postgres, memory)")
	fs.StringVar(&cfg.Store.SQLitePath, "db", cfg.Store.SQLitePath, "SQLite DB path")
	fs.StringVar(&cfg.Store.RedisURL, "redis-url", cfg.Store.RedisURL, "Redis URL for the redis store")
	fs.StringVar(&cfg.Store.RedisKey, "redis-key", cfg.Store.RedisKey, "Redis hash holding the tasks")
	fs.StringVar(&cfg.Store.PostgresDSN, "postgres-dsn", cfg.Store.PostgresDSN, "PostgreSQL connection string")

	fs.StringVar(&cfg.Notifier.Kind, "notifier", cfg.Notifier.Kind, "delivery channel (log, resend, webhook, sendmail)")
	fs.StringVar(&cfg.Notifier.From, "from", cfg.Notifier.From, "sender address for e-mail notifiers")
	fs.StringVar(&cfg.Notifier.ResendAPIKey, "resend-api-key", cfg.Notifier.ResendAPIKey, "Resend API key")
	fs.StringVar(&cfg.Notifier.WebhookURL, "webhook-url", cfg.Notifier.WebhookURL, "webhook notifier target URL")
	fs.DurationVar(&cfg.Notifier.WebhookTimeout, "webhook-timeout", cfg.Notifier.WebhookTimeout, "webhook request timeout")
	fs.StringVar(&cfg.Notifier.SendmailPath, "sendmail", cfg.Notifier.SendmailPath, "sendmail binary")

	fs.StringVar(&cfg.OverduePolicy, "overdue", cfg.OverduePolicy, "fire time in the past on create (reject, fire)")
	fs.StringVar(&cfg.RecoveryPolicy, "recovery", cfg.RecoveryPolicy, "tasks missed during downtime (fire, drop)")
	fs.StringVar(&cfg.AuditSpec, "audit", cfg.AuditSpec, "cron spec for the consistency audit, empty to disable")

	fs.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "expose Prometheus metrics on /metrics")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable /debug/pprof")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body", cfg.MaxBodyBytes, "maximum request body size in bytes")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	return fs, path
}
