// Package core holds the domain types shared by every stage of live session
// verification: the per-modality signals produced by upstream pipelines and
// the error taxonomy used to describe why a signal could not be trusted.
package core

import (
	"fmt"
	"math"
)

// Modality is one independent evidence channel.
type Modality string

const (
	ModalityVideo Modality = "VIDEO"
	ModalityAudio Modality = "AUDIO"
	ModalityCode  Modality = "CODE"
)

// Modalities lists every channel in fan-out order.
var Modalities = []Modality{ModalityVideo, ModalityAudio, ModalityCode}

// Scored reports whether the modality carries a deepfake probability.
func (m Modality) Scored() bool {
	return m == ModalityVideo || m == ModalityAudio
}

// ParseModality accepts the lower-case route form ("video") as well as the
// canonical upper-case form.
func ParseModality(s string) (Modality, error) {
	switch s {
	case "video", "VIDEO":
		return ModalityVideo, nil
	case "audio", "AUDIO":
		return ModalityAudio, nil
	case "code", "CODE":
		return ModalityCode, nil
	default:
		return "", fmt.Errorf("unknown modality %q", s)
	}
}

// SignalStatus tags how far a signal can be trusted.
type SignalStatus string

const (
	StatusOK       SignalStatus = "OK"
	StatusDegraded SignalStatus = "DEGRADED" // heuristic or low-confidence fallback value
	StatusFailed   SignalStatus = "FAILED"
)

// MediaRef is a handle to one captured media source. The engine never reads
// the media itself; it only forwards the handle to the owning pipeline.
type MediaRef struct {
	SessionID string `json:"session_id"`
	URI       string `json:"uri"`
}

// CodeEvidence is the spoken-challenge observation. Matched is nil when the
// comparison could not be made.
type CodeEvidence struct {
	Matched    *bool   `json:"matched"`
	Confidence float64 `json:"confidence"`
	Transcript string  `json:"transcript"`
}

// ModalitySignal is one observation from a single analysis pipeline.
//
// Score (VIDEO/AUDIO) or Code (CODE) is set iff Status is OK or DEGRADED.
// Error is set iff Status is not OK.
type ModalitySignal struct {
	Modality Modality      `json:"modality"`
	Status   SignalStatus  `json:"status"`
	Score    *float64      `json:"score,omitempty"`
	Code     *CodeEvidence `json:"code,omitempty"`
	Error    *SignalError  `json:"error,omitempty"`
}

// ScoreSignal builds an OK video/audio signal.
func ScoreSignal(m Modality, score float64) ModalitySignal {
	return ModalitySignal{Modality: m, Status: StatusOK, Score: &score}
}

// DegradedScoreSignal builds a DEGRADED video/audio signal. reason explains
// why the upstream value is not fully trusted.
func DegradedScoreSignal(m Modality, score float64, reason error) ModalitySignal {
	return ModalitySignal{Modality: m, Status: StatusDegraded, Score: &score, Error: DescribeError(reason)}
}

// CodeSignal builds an OK challenge-code signal.
func CodeSignal(ev CodeEvidence) ModalitySignal {
	return ModalitySignal{Modality: ModalityCode, Status: StatusOK, Code: &ev}
}

// DegradedCodeSignal builds a DEGRADED challenge-code signal.
func DegradedCodeSignal(ev CodeEvidence, reason error) ModalitySignal {
	return ModalitySignal{Modality: ModalityCode, Status: StatusDegraded, Code: &ev, Error: DescribeError(reason)}
}

// FailedSignal builds a FAILED signal. It never carries a value: callers
// must not infer meaning from absent data.
func FailedSignal(m Modality, err error) ModalitySignal {
	return ModalitySignal{Modality: m, Status: StatusFailed, Error: DescribeError(err)}
}

// HasValue reports whether the signal carries an observation.
func (s ModalitySignal) HasValue() bool {
	if s.Modality == ModalityCode {
		return s.Code != nil
	}
	return s.Score != nil
}

// Validate checks the presence invariants between status, value and error.
func (s ModalitySignal) Validate() error {
	switch s.Status {
	case StatusOK, StatusDegraded:
		if !s.HasValue() {
			return fmt.Errorf("%s signal with status %s has no value", s.Modality, s.Status)
		}
		if s.Modality.Scored() {
			if s.Code != nil {
				return fmt.Errorf("%s signal carries code evidence", s.Modality)
			}
			if v := *s.Score; math.IsNaN(v) || v < 0 || v > 1 {
				return &MalformedSignalError{Modality: s.Modality, Value: v, Reason: "score outside [0,1]"}
			}
		} else if s.Score != nil {
			return fmt.Errorf("CODE signal carries a score")
		}
	case StatusFailed:
		if s.Score != nil || s.Code != nil {
			return fmt.Errorf("%s signal is FAILED but carries a value", s.Modality)
		}
	default:
		return fmt.Errorf("%s signal has unknown status %q", s.Modality, s.Status)
	}

	if (s.Status == StatusOK) != (s.Error == nil) {
		return fmt.Errorf("%s signal error descriptor does not match status %s", s.Modality, s.Status)
	}
	return nil
}

// Clone returns a deep copy so the result can be handed to another goroutine.
func (s ModalitySignal) Clone() ModalitySignal {
	out := s
	if s.Score != nil {
		v := *s.Score
		out.Score = &v
	}
	if s.Code != nil {
		ev := *s.Code
		if s.Code.Matched != nil {
			m := *s.Code.Matched
			ev.Matched = &m
		}
		out.Code = &ev
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
