package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrNoChallengeCode   = errors.New("no challenge code associated with session")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrEmptyTranscript   = errors.New("transcript contains no usable characters")
	ErrMissingMedia      = errors.New("no media handle supplied")
)

// Error kinds carried in SignalError.Kind.
const (
	KindTimeout         = "timeout"
	KindDeadline        = "deadline_exceeded"
	KindCancelled       = "cancelled"
	KindUpstreamFailure = "upstream_failure"
	KindMalformedSignal = "malformed_signal"
	KindNoChallengeCode = "no_challenge_code"
	KindDegraded        = "degraded"
	KindMissingMedia    = "missing_media"
	KindInternal        = "internal"
)

// ConfigurationError is fatal and raised only while validating startup
// configuration.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// UpstreamTimeoutError marks a branch that did not answer in time. Deadline
// is set when the global request deadline fired rather than the branch's
// own timeout.
type UpstreamTimeoutError struct {
	Modality Modality
	After    time.Duration
	Deadline bool
}

func (e *UpstreamTimeoutError) Error() string {
	if e.Deadline {
		return fmt.Sprintf("%s pipeline: request deadline exceeded after %s", e.Modality, e.After)
	}
	return fmt.Sprintf("%s pipeline timed out after %s", e.Modality, e.After)
}

// UpstreamFailureError wraps an error reported by (or while reaching) an
// upstream pipeline.
type UpstreamFailureError struct {
	Modality Modality
	Cause    error
}

func (e *UpstreamFailureError) Error() string {
	return fmt.Sprintf("%s pipeline failed: %v", e.Modality, e.Cause)
}

func (e *UpstreamFailureError) Unwrap() error { return e.Cause }

// MalformedSignalError is a received value that cannot be a probability.
// Such values are rejected, never clamped.
type MalformedSignalError struct {
	Modality Modality
	Value    float64
	Reason   string
}

func (e *MalformedSignalError) Error() string {
	return fmt.Sprintf("%s pipeline returned malformed value %v: %s", e.Modality, e.Value, e.Reason)
}

// DegradedSignalError describes why a value was delivered as DEGRADED.
type DegradedSignalError struct {
	Modality Modality
	Reason   string
}

func (e *DegradedSignalError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s pipeline returned a degraded value", e.Modality)
	}
	return fmt.Sprintf("%s pipeline returned a degraded value: %s", e.Modality, e.Reason)
}

// SignalError is the serialisable error descriptor stored on a signal.
type SignalError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *SignalError) Error() string { return e.Kind + ": " + e.Message }

// DescribeError classifies err into a SignalError. It returns nil for a nil
// error.
func DescribeError(err error) *SignalError {
	if err == nil {
		return nil
	}

	var (
		timeout   *UpstreamTimeoutError
		malformed *MalformedSignalError
		degraded  *DegradedSignalError
		upstream  *UpstreamFailureError
		described *SignalError
	)
	kind := KindInternal
	switch {
	case errors.As(err, &described):
		return &SignalError{Kind: described.Kind, Message: described.Message}
	case errors.As(err, &timeout):
		kind = KindTimeout
		if timeout.Deadline {
			kind = KindDeadline
		}
	case errors.As(err, &malformed):
		kind = KindMalformedSignal
	case errors.As(err, &degraded):
		kind = KindDegraded
	case errors.Is(err, ErrNoChallengeCode):
		kind = KindNoChallengeCode
	case errors.Is(err, ErrMissingMedia):
		kind = KindMissingMedia
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errors.As(err, &upstream):
		kind = KindUpstreamFailure
	}
	return &SignalError{Kind: kind, Message: err.Error()}
}
