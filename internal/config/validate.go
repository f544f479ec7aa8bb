package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"sendlater/internal/scheduler"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Addr == "" {
		add("addr", "required")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("log_level", "invalid level %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		add("log_format", "must be 'console' or 'json', got %q", cfg.LogFormat)
	}

	switch strings.ToLower(cfg.Store.Driver) {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			add("store.sqlite_path", "required for the sqlite driver")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			add("store.redis_url", "required for the redis driver")
		}
	case "postgres":
		if cfg.Store.PostgresDSN == "" {
			add("store.postgres_dsn", "required for the postgres driver")
		}
	case "memory":
	default:
		add("store.driver", "must be one of sqlite, redis, postgres, memory, got %q", cfg.Store.Driver)
	}

	switch strings.ToLower(cfg.Notifier.Kind) {
	case "log", "sendmail":
	case "resend":
		if cfg.Notifier.ResendAPIKey == "" {
			add("notifier.resend_api_key", "required for the resend notifier")
		}
		if cfg.Notifier.From == "" {
			add("notifier.from", "required for the resend notifier")
		}
	case "webhook":
		if cfg.Notifier.WebhookURL == "" {
			add("notifier.webhook_url", "required for the webhook notifier")
		}
	default:
		add("notifier.kind", "must be one of log, resend, webhook, sendmail, got %q", cfg.Notifier.Kind)
	}

	switch scheduler.OverduePolicy(cfg.OverduePolicy) {
	case scheduler.OverdueReject, scheduler.OverdueFireNow:
	default:
		add("overdue_policy", "must be 'reject' or 'fire', got %q", cfg.OverduePolicy)
	}
	switch scheduler.RecoveryPolicy(cfg.RecoveryPolicy) {
	case scheduler.RecoveryFireNow, scheduler.RecoveryDrop:
	default:
		add("recovery_policy", "must be 'fire' or 'drop', got %q", cfg.RecoveryPolicy)
	}

	if cfg.AuditSpec != "" {
		if err := scheduler.ValidateCronExpression(cfg.AuditSpec); err != nil {
			add("audit_spec", "invalid cron expression: %v", err)
		}
	}
	if cfg.MaxBodyBytes <= 0 {
		add("max_body_bytes", "must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		add("shutdown_timeout", "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
