package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// delivery is the webhook body. Attempt counts from 1; receivers deduplicate
// retries on Alert.ID, also sent as the Idempotency-Key header.
type delivery struct {
	Event    string    `json:"event"`
	Severity Severity  `json:"severity"`
	Attempt  int       `json:"attempt"`
	SentAt   time.Time `json:"sent_at"`
	Alert    Alert     `json:"alert"`
}

// permanent reports a response status that retrying will not change.
func permanent(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

// Webhook POSTs alerts as JSON with retry and exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first backoff step, doubled on each retry. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Close() error { return nil }

// Send POSTs a to the webhook. 5xx, 408, 429 and transport errors are
// retried; other 4xx answers fail at once.
func (w *Webhook) Send(ctx context.Context, a Alert) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(w.backoff * time.Duration(1<<uint(attempt-2))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		body, err := json.Marshal(delivery{
			Event:    "clickguard.alert",
			Severity: SeverityOf(a.Label),
			Attempt:  attempt,
			SentAt:   time.Now().UTC(),
			Alert:    a,
		})
		if err != nil {
			return fmt.Errorf("webhook: marshal: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", a.ID)
		req.Header.Set("X-Clickguard-Attempt", strconv.Itoa(attempt))

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook: request failed", "id", a.ID, "attempt", attempt, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook: status %d", resp.StatusCode)
		if permanent(resp.StatusCode) {
			return fmt.Errorf("webhook: alert %s rejected: %w", a.ID, lastErr)
		}
		w.logger.Warn("webhook: bad status", "id", a.ID, "attempt", attempt, "status", resp.StatusCode)
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}
