package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v3"

	"sendlater/internal/domain"
	"sendlater/internal/render"
)

// Resend delivers e-mail through the Resend API.
type Resend struct {
	client *resend.Client
	from   string
	render *render.Renderer
}

func NewResend(apiKey, from string, r *render.Renderer) (*Resend, error) {
	if apiKey == "" {
		return nil, errors.New("resend api key is required")
	}
	if from == "" {
		return nil, errors.New("resend sender address is required")
	}
	if r == nil {
		r = render.New()
	}
	return &Resend{client: resend.NewClient(apiKey), from: from, render: r}, nil
}

func (s *Resend) Notify(ctx context.Context, t domain.Task) error {
	req, err := s.buildRequest(t)
	if err != nil {
		return err
	}
	if _, err := s.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}

func (s *Resend) buildRequest(t domain.Task) (*resend.SendEmailRequest, error) {
	if t.Recipient == "" {
		return nil, errors.New("resend: recipient is required")
	}
	if err := checkHeader(t.Recipient, t.Subject); err != nil {
		return nil, err
	}

	req := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{t.Recipient},
		Subject: t.Subject,
		Html:    t.Body,
		Text:    s.render.PlainText(t.Body),
		Headers: map[string]string{"X-Sendlater-Task": t.ID},
	}
	if a := t.Attachment; a != nil {
		req.Attachments = []*resend.Attachment{{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
		}}
	}
	return req, nil
}
