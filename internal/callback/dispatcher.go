// Package callback delivers the final payload to the evaluation
// endpoint. Delivery is at-most-once per session: the dispatcher
// itself retries transient failures, but whether a second delivery is
// ever attempted is governed by the session's callback_sent flag.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hivetrap/backend/internal/core"
)

const (
	maxAttempts    = 3
	defaultTimeout = 30 * time.Second
)

// Dispatcher POSTs callback payloads with bounded retries. backoffBase
// is scaled per attempt (1x, 2x); tests shrink it.
type Dispatcher struct {
	url         string
	client      *http.Client
	backoffBase time.Duration
	logger      *log.Logger
}

func NewDispatcher(url string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		backoffBase: time.Second,
		logger:      log.New(log.Writer(), "[CALLBACK] ", log.LstdFlags),
	}
}

// URL reports the configured endpoint; empty disables dispatch.
func (d *Dispatcher) URL() string { return d.url }

// Send POSTs the payload, retrying transport errors and 5xx responses
// with exponential backoff (1s, 2s). A 4xx is the endpoint rejecting
// the payload itself; retrying identical bytes cannot fix that, so it
// fails immediately. Returns the response body of the successful
// attempt.
func (d *Dispatcher) Send(ctx context.Context, payload core.CallbackPayload) (string, error) {
	if d.url == "" {
		return "", fmt.Errorf("no callback URL configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal callback payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := d.backoffBase * time.Duration(1<<(attempt-2))
			d.logger.Printf("⚠️ retrying session %s in %v (attempt %d/%d)", payload.SessionID, backoff, attempt, maxAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		respBody, retryable, err := d.post(ctx, body)
		if err == nil {
			d.logger.Printf("✅ delivered payload for session %s (attempt %d)", payload.SessionID, attempt)
			return respBody, nil
		}
		lastErr = err
		if !retryable {
			d.logger.Printf("❌ session %s rejected permanently: %v", payload.SessionID, err)
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	d.logger.Printf("❌ giving up on session %s after %d attempts: %v", payload.SessionID, maxAttempts, lastErr)
	return "", fmt.Errorf("callback failed after %d attempts: %w", maxAttempts, lastErr)
}

// post runs one attempt. The second return tells Send whether the
// failure class is worth another try.
func (d *Dispatcher) post(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Transport-level failure (DNS, refused, timeout): retryable.
		return "", true, fmt.Errorf("callback POST: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("callback response read: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return string(respBody), false, nil
	case resp.StatusCode >= 500:
		return "", true, fmt.Errorf("callback HTTP %d", resp.StatusCode)
	default:
		return "", false, fmt.Errorf("callback HTTP %d", resp.StatusCode)
	}
}
