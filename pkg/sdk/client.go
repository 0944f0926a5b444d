// Package sdk is the Go client for the live verification service.
//
// Relying services use it to issue a spoken challenge, submit the captured
// session for three-factor verification, and gate sensitive actions on the
// outcome.
//
//	client := sdk.NewClient(sdk.Config{
//	    GatewayURL: "https://verify.internal.example.com",
//	    APIKey:     os.Getenv("VERIFY_API_KEY"),
//	})
//
//	ch, err := client.IssueChallenge(ctx, "")
//	// ... the user reads ch.Code aloud on camera ...
//	result, err := client.VerifyLive(ctx, sdk.LiveRequest{
//	    SessionID: ch.SessionID,
//	    Media:     sdk.Media{Recording: "s3://captures/" + ch.SessionID + ".webm"},
//	})
//	if result.Passed() {
//	    // proceed
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestIDHeader = "X-Request-ID"

// Config holds the SDK configuration.
type Config struct {
	// GatewayURL is the service endpoint (required)
	// Examples: "https://verify.yourcompany.com", "http://localhost:8080"
	GatewayURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout bounds each call (default 30s). Live verification can take up
	// to the service's request deadline, so keep this above it.
	Timeout time.Duration

	// HTTPClient overrides the underlying client; Timeout is ignored when set
	HTTPClient *http.Client

	// OnFail is called for every FAIL verdict
	OnFail func(result *LiveResult)

	// OnInconclusive is called for every INCONCLUSIVE verdict
	OnInconclusive func(result *LiveResult)
}

// Client talks to the verification API.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new SDK client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:     cfg,
		baseURL:    strings.TrimRight(cfg.GatewayURL, "/"),
		httpClient: hc,
	}
}

// IssueChallenge asks the service for a new spoken code. An empty
// sessionID lets the service generate one.
func (c *Client) IssueChallenge(ctx context.Context, sessionID string) (*Challenge, error) {
	var ch Challenge
	if err := c.post(ctx, "/api/v1/challenges", map[string]string{"session_id": sessionID}, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// VerifyLive submits a captured session. A returned error means the
// service could not be asked; FAIL and INCONCLUSIVE are results, not errors.
//
//	result, err := client.VerifyLive(ctx, req)
//	switch result.FinalVerdict {
//	case sdk.VerdictPass:
//	    // all three factors cleared
//	case sdk.VerdictFail:
//	    log.Printf("rejected: %s", result.FailureReason)
//	case sdk.VerdictInconclusive:
//	    // retry with a fresh capture or route to manual review
//	}
func (c *Client) VerifyLive(ctx context.Context, req LiveRequest) (*LiveResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("verify-sdk: session ID is required")
	}

	var result LiveResult
	if err := c.post(ctx, "/api/v1/verify/live", req, &result); err != nil {
		return nil, err
	}

	switch result.FinalVerdict {
	case VerdictFail:
		if c.config.OnFail != nil {
			c.config.OnFail(&result)
		}
	case VerdictInconclusive:
		if c.config.OnInconclusive != nil {
			c.config.OnInconclusive(&result)
		}
	}
	return &result, nil
}

// Analyze scores a single video or audio handle.
func (c *Client) Analyze(ctx context.Context, modality, sessionID, mediaURI string) (*ModalityResult, error) {
	modality = strings.ToLower(modality)
	if modality != "video" && modality != "audio" {
		return nil, fmt.Errorf("verify-sdk: unsupported modality %q", modality)
	}

	var result ModalityResult
	body := map[string]string{"session_id": sessionID, "media_uri": mediaURI}
	if err := c.post(ctx, "/api/v1/analyze/"+url.PathEscape(modality), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Healthy reports whether the service answers /health with status "healthy".
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("verify-sdk: health request failed: %w", err)
	}
	defer resp.Body.Close()

	var h struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return false, fmt.Errorf("verify-sdk: failed to parse health: %w", err)
	}
	return resp.StatusCode == http.StatusOK && h.Status == "healthy", nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("verify-sdk: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("verify-sdk: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("verify-sdk: gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("verify-sdk: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(requestIDHeader)}
		var e struct {
			Error     string `json:"error"`
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(respBody, &e) == nil {
			apiErr.Message = e.Error
			if e.RequestID != "" {
				apiErr.RequestID = e.RequestID
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("verify-sdk: failed to parse response: %w", err)
	}
	return nil
}
