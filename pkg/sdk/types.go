package sdk

import (
	"fmt"
	"time"
)

// Final session verdicts returned by /api/v1/verify/live
const (
	// VerdictPass: video, audio and spoken code all cleared
	VerdictPass = "PASS"

	// VerdictFail: code mismatch or a deepfake signal
	VerdictFail = "FAIL"

	// VerdictInconclusive: a required signal was unavailable, retry or review
	VerdictInconclusive = "INCONCLUSIVE"
)

// Failure reasons attached to FAIL and INCONCLUSIVE verdicts
const (
	ReasonCodeMismatch      = "code_mismatch"
	ReasonDeepfakeDetected  = "deepfake_detected"
	ReasonSignalUnavailable = "signal_unavailable"
)

// Signal statuses
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusFailed   = "FAILED"
)

// Media names the captured inputs. Recording is used for every modality
// whose own handle is empty.
type Media struct {
	Recording string `json:"recording,omitempty"`
	Video     string `json:"video,omitempty"`
	Audio     string `json:"audio,omitempty"`
	Code      string `json:"code,omitempty"`
}

// LiveRequest is what the SDK sends to /api/v1/verify/live
type LiveRequest struct {
	SessionID string `json:"session_id"`

	// ExpectedCode may be empty when the challenge was issued by the service
	ExpectedCode string `json:"expected_code"`

	Media Media `json:"media"`
}

// SignalError describes why a signal FAILED.
type SignalError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SignalReport is the per-modality part of a live result.
type SignalReport struct {
	Status      string       `json:"status"`
	Score       *float64     `json:"score,omitempty"`
	Category    string       `json:"category,omitempty"`
	Verdict     string       `json:"verdict"`
	RiskLevel   string       `json:"risk_level"`
	PolicyFlags []string     `json:"policy_flags"`
	Action      string       `json:"action_required"`
	Error       *SignalError `json:"error,omitempty"`
}

// CodeReport is the spoken-code part of a live result.
type CodeReport struct {
	Status     string       `json:"status"`
	Matched    *bool        `json:"matched,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *SignalError `json:"error,omitempty"`
}

// LiveResult is the three-factor session verdict.
type LiveResult struct {
	RequestID     string       `json:"request_id"`
	SessionID     string       `json:"session_id"`
	Video         SignalReport `json:"video"`
	Audio         SignalReport `json:"audio"`
	Code          CodeReport   `json:"code"`
	FinalVerdict  string       `json:"final_verdict"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
	DurationMs    int64        `json:"duration_ms"`
}

// Passed reports whether the session cleared all three factors.
func (r *LiveResult) Passed() bool { return r.FinalVerdict == VerdictPass }

// ModalityResult is the single-modality verdict from /api/v1/analyze/{modality}.
type ModalityResult struct {
	RequestID      string       `json:"request_id,omitempty"`
	SessionID      string       `json:"session_id,omitempty"`
	Modality       string       `json:"modality"`
	Classification string       `json:"classification"`
	Confidence     *float64     `json:"confidence,omitempty"`
	RiskLevel      string       `json:"risk_level"`
	PolicyFlags    []string     `json:"policy_flags"`
	ActionRequired string       `json:"action_required"`
	SignalStatus   string       `json:"signal_status"`
	Error          *SignalError `json:"error,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
}

// Challenge is an issued spoken code.
type Challenge struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("verify-sdk: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("verify-sdk: HTTP %d: %s", e.StatusCode, e.Message)
}
