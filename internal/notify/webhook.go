package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/toolscout/catalogd/internal/domain"
)

// WebhookSink POSTs the alert payload as JSON. 5xx responses and transport
// errors are retried; 4xx responses are not.
type WebhookSink struct {
	url     string
	client  *http.Client
	tries   uint
	backoff func() backoff.BackOff
}

// WebhookOption configures a WebhookSink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) WebhookOption { return func(w *WebhookSink) { w.client = c } }

// WithRetry sets the number of attempts and the backoff between them.
func WithRetry(tries uint, b func() backoff.BackOff) WebhookOption {
	return func(w *WebhookSink) {
		w.tries = max(1, tries)
		w.backoff = b
	}
}

// NewWebhookSink creates a sink posting to url.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	w := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		tries:  3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			return b
		},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WebhookSink) SendAlert(ctx context.Context, p domain.AlertPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: marshal alert: %w", err)
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.post(ctx, body)
	}, backoff.WithBackOff(w.backoff()), backoff.WithMaxTries(w.tries))
	return err
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("webhook: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "catalogd-quality-alerts")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("webhook: rejected with %d", resp.StatusCode))
	}
	return nil
}
