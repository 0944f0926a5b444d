package fusion

import (
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
)

// Outcome is the final three-factor session verdict.
type Outcome string

const (
	OutcomePass         Outcome = "PASS"
	OutcomeFail         Outcome = "FAIL"
	OutcomeInconclusive Outcome = "INCONCLUSIVE"
)

// FailureReason explains a non-PASS outcome.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonCodeMismatch      FailureReason = "code_mismatch"
	ReasonDeepfakeDetected  FailureReason = "deepfake_detected"
	ReasonSignalUnavailable FailureReason = "signal_unavailable"
)

// Request is one live verification attempt. Recording, when set, stands in
// for any per-modality handle left empty.
type Request struct {
	RequestID    string
	SessionID    string
	ExpectedCode string
	Recording    string
	Video        core.MediaRef
	Audio        core.MediaRef
	Code         core.MediaRef
}

// MediaFor resolves the handle a modality's pipeline should receive.
func (r Request) MediaFor(m core.Modality) core.MediaRef {
	var ref core.MediaRef
	switch m {
	case core.ModalityVideo:
		ref = r.Video
	case core.ModalityAudio:
		ref = r.Audio
	case core.ModalityCode:
		ref = r.Code
	}
	if ref.URI == "" {
		ref.URI = r.Recording
	}
	if ref.SessionID == "" {
		ref.SessionID = r.SessionID
	}
	return ref
}

// SessionVerdict is the decided result of one Request. It is owned by the
// request goroutine until handed to the emitter, which takes a Clone.
type SessionVerdict struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`

	Video core.ModalitySignal `json:"video"`
	Audio core.ModalitySignal `json:"audio"`
	Code  core.ModalitySignal `json:"code"`

	VideoVerdict decision.Verdict  `json:"video_verdict"`
	AudioVerdict decision.Verdict  `json:"audio_verdict"`
	CodeMatch    *codematch.Result `json:"code_match,omitempty"`

	Outcome       Outcome       `json:"outcome"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`

	Phases    []PhaseTransition `json:"phases"`
	StartedAt time.Time         `json:"started_at"`
	DecidedAt time.Time         `json:"decided_at"`
	Duration  time.Duration     `json:"duration_ns"`
}

// Signal returns the collected signal for m.
func (sv *SessionVerdict) Signal(m core.Modality) core.ModalitySignal {
	switch m {
	case core.ModalityVideo:
		return sv.Video
	case core.ModalityAudio:
		return sv.Audio
	default:
		return sv.Code
	}
}

// Clone returns a deep copy.
func (sv *SessionVerdict) Clone() *SessionVerdict {
	if sv == nil {
		return nil
	}
	out := *sv
	out.Video = sv.Video.Clone()
	out.Audio = sv.Audio.Clone()
	out.Code = sv.Code.Clone()
	out.VideoVerdict = sv.VideoVerdict.Clone()
	out.AudioVerdict = sv.AudioVerdict.Clone()
	if sv.CodeMatch != nil {
		cm := *sv.CodeMatch
		out.CodeMatch = &cm
	}
	out.Phases = append([]PhaseTransition(nil), sv.Phases...)
	return &out
}

// Fuse applies the fixed precedence over the per-modality results:
//
//  1. CODE compared and not matched          -> FAIL code_mismatch
//  2. VIDEO or AUDIO available and SUSPECT   -> FAIL deepfake_detected
//  3. VIDEO or AUDIO FAILED                  -> INCONCLUSIVE signal_unavailable
//  4. otherwise                              -> PASS
//
// A FAILED CODE signal never fails the session on its own.
func Fuse(video, audio decision.Verdict, code core.ModalitySignal) (Outcome, FailureReason) {
	if code.Status != core.StatusFailed && code.Code != nil && code.Code.Matched != nil && !*code.Code.Matched {
		return OutcomeFail, ReasonCodeMismatch
	}
	if suspect(video) || suspect(audio) {
		return OutcomeFail, ReasonDeepfakeDetected
	}
	if video.Status == core.StatusFailed || audio.Status == core.StatusFailed {
		return OutcomeInconclusive, ReasonSignalUnavailable
	}
	return OutcomePass, ReasonNone
}

func suspect(v decision.Verdict) bool {
	return v.Scored && v.Status != core.StatusFailed && v.Category == decision.CategorySuspect
}
