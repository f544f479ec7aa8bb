package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sendlater/internal/domain"
)

// Webhook POSTs the fired task as JSON to a fixed URL.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

type webhookAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

type webhookPayload struct {
	ID         string             `json:"id"`
	Recipient  string             `json:"recipient"`
	Subject    string             `json:"subject"`
	Body       string             `json:"body"`
	Attachment *webhookAttachment `json:"attachment,omitempty"`
	FireAt     time.Time          `json:"fire_at"`
	FiredAt    time.Time          `json:"fired_at"`
}

func NewWebhook(url string, headers map[string]string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second // default 30 seconds
	}
	return &Webhook{url: url, headers: headers, client: &http.Client{Timeout: timeout}}, nil
}

func (h *Webhook) Notify(ctx context.Context, t domain.Task) error {
	p := webhookPayload{
		ID:        t.ID,
		Recipient: t.Recipient,
		Subject:   t.Subject,
		Body:      t.Body,
		FireAt:    t.FireAt.UTC(),
		FiredAt:   time.Now().UTC(),
	}
	if a := t.Attachment; a != nil {
		p.Attachment = &webhookAttachment{Filename: a.Filename, ContentType: a.ContentType, Content: a.Content}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.ID)
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check for HTTP errors (4xx, 5xx)
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d error: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
