package emitter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// WebhookSink POSTs each event to a single subscriber URL. When a secret is
// configured the body is signed with HMAC-SHA256.
type WebhookSink struct {
	url         string
	secret      string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
}

func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:         url,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff:     time.Second,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// Deliver retries transport errors and 5xx responses with quadratic
// backoff. 4xx responses are not retried.
func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	payload, err := ev.JSON()
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		retry, err := s.post(ctx, ev, payload, attempt)
		if err == nil {
			slog.Debug("[Webhook] Delivered", "event_id", ev.ID, "type", ev.Type, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(attempt*attempt) * s.backoff
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery abandoned: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}

func (s *WebhookSink) post(ctx context.Context, ev *Event, payload []byte, attempt int) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Verify-Event-Type", string(ev.Type))
	req.Header.Set("X-Verify-Event-ID", ev.ID)
	req.Header.Set("X-Verify-Delivery-Attempt", strconv.Itoa(attempt))
	if s.secret != "" {
		req.Header.Set("X-Verify-Signature", "sha256="+SignPayload(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook delivery to %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return false, nil
}

// SignPayload computes the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value in constant time.
func VerifySignature(payload []byte, secret, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
