// Package notify implements the delivery channels invoked when a task fires.
// Every notifier makes a single attempt and reports failure as an error.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sendlater/internal/domain"
	"sendlater/internal/render"
)

type Notifier interface {
	Notify(ctx context.Context, t domain.Task) error
}

var (
	ErrUnknownNotifier = errors.New("unknown notifier")
	ErrInvalidHeader   = errors.New("header value contains a line break")
)

type Config struct {
	Kind string `yaml:"kind"` // log | resend | webhook | sendmail

	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`

	WebhookURL     string            `yaml:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	WebhookTimeout time.Duration     `yaml:"webhook_timeout"`

	SendmailPath string `yaml:"sendmail_path"`
}

// New builds the configured notifier.
func New(cfg Config, r *render.Renderer, logger zerolog.Logger) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "log":
		return NewLog(logger), nil
	case "resend":
		return NewResend(cfg.ResendAPIKey, cfg.From, r)
	case "webhook":
		return NewWebhook(cfg.WebhookURL, cfg.WebhookHeaders, cfg.WebhookTimeout)
	case "sendmail":
		return NewSendmail(cfg.SendmailPath, cfg.From, r), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotifier, cfg.Kind)
	}
}

// Log writes fired tasks to the log instead of delivering them.
type Log struct{ log zerolog.Logger }

func NewLog(logger zerolog.Logger) *Log { return &Log{log: logger} }

func (l *Log) Notify(_ context.Context, t domain.Task) error {
	ev := l.log.Info().
		Str("task_id", t.ID).
		Str("recipient", t.Recipient).
		Str("subject", t.Subject).
		Int("body_bytes", len(t.Body))
	if t.Attachment != nil {
		ev = ev.Str("attachment", t.Attachment.Filename).Int("attachment_bytes", len(t.Attachment.Content))
	}
	ev.Msg("delivery")
	return nil
}

func checkHeader(values ...string) error {
	for _, v := range values {
		if strings.ContainsAny(v, "\r\n") {
			return ErrInvalidHeader
		}
	}
	return nil
}
