package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

const maxResponseBytes = 1 << 20

// HTTPClient calls a remote analysis pipeline over JSON/HTTP. It serves as
// ScoreSource for the video and audio pipelines and as Transcriber for the
// speech pipeline.
type HTTPClient struct {
	modality   core.Modality
	url        string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// analyzeRequest is the body POSTed to every pipeline.
type analyzeRequest struct {
	SessionID string `json:"session_id"`
	MediaURI  string `json:"media_uri"`
	Modality  string `json:"modality"`
}

// NewHTTPClient creates a client for the pipeline at url. A zero timeout
// leaves the deadline entirely to the caller's context. breaker may be nil.
func NewHTTPClient(m core.Modality, url string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPClient {
	return &HTTPClient{
		modality:   m,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Score implements ScoreSource.
func (c *HTTPClient) Score(ctx context.Context, ref core.MediaRef) (ScoreReport, error) {
	var report ScoreReport
	err := c.call(ctx, ref, &report)
	return report, err
}

// Transcribe implements Transcriber.
func (c *HTTPClient) Transcribe(ctx context.Context, ref core.MediaRef) (TranscriptReport, error) {
	var report TranscriptReport
	err := c.call(ctx, ref, &report)
	return report, err
}

func (c *HTTPClient) call(ctx context.Context, ref core.MediaRef, out any) error {
	do := func(ctx context.Context) error { return c.post(ctx, ref, out) }
	if c.breaker == nil {
		return do(ctx)
	}
	return c.breaker.Do(ctx, do)
}

func (c *HTTPClient) post(ctx context.Context, ref core.MediaRef, out any) error {
	payload, err := json.Marshal(analyzeRequest{
		SessionID: ref.SessionID,
		MediaURI:  ref.URI,
		Modality:  string(c.modality),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s pipeline request: %w", c.modality, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s pipeline response: %w", c.modality, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("%s pipeline returned HTTP %d", c.modality, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			// The request was rejected, the pipeline itself is up.
			return circuitbreaker.Exclude(err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s pipeline response: %w", c.modality, err)
	}

	slog.Debug("[Pipeline] Response received",
		"modality", c.modality,
		"session_id", ref.SessionID,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
