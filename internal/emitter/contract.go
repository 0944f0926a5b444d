package emitter

import (
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

// ScoreReport is the per-modality block of the three-factor response.
type ScoreReport struct {
	Status      core.SignalStatus       `json:"status"`
	Score       *float64                `json:"score,omitempty"`
	Category    string                  `json:"category,omitempty"`
	Verdict     decision.Classification `json:"verdict"`
	RiskLevel   string                  `json:"risk_level"`
	PolicyFlags []decision.PolicyFlag   `json:"policy_flags"`
	Action      decision.ActionRequired `json:"action_required"`
	Error       *core.SignalError       `json:"error,omitempty"`
}

// CodeReport is the challenge-code block of the three-factor response.
type CodeReport struct {
	Status     core.SignalStatus `json:"status"`
	Matched    *bool             `json:"matched,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Transcript string            `json:"transcript,omitempty"`
	Error      *core.SignalError `json:"error,omitempty"`
}

// LiveResponse is the external contract for a three-factor session.
type LiveResponse struct {
	RequestID     string               `json:"request_id"`
	SessionID     string               `json:"session_id"`
	Video         ScoreReport          `json:"video"`
	Audio         ScoreReport          `json:"audio"`
	Code          CodeReport           `json:"code"`
	FinalVerdict  fusion.Outcome       `json:"final_verdict"`
	FailureReason fusion.FailureReason `json:"failure_reason,omitempty"`
	Explanation   string               `json:"explanation,omitempty"`
	DecidedAt     time.Time            `json:"decided_at"`
	DurationMs    int64                `json:"duration_ms"`
}

// ModalityResponse is the external contract for a single-modality analysis.
// Confidence is omitted when no score was available.
type ModalityResponse struct {
	RequestID      string                  `json:"request_id,omitempty"`
	SessionID      string                  `json:"session_id,omitempty"`
	Modality       core.Modality           `json:"modality"`
	Classification decision.Classification `json:"classification"`
	Confidence     *float64                `json:"confidence,omitempty"`
	RiskLevel      string                  `json:"risk_level"`
	PolicyFlags    []decision.PolicyFlag   `json:"policy_flags"`
	ActionRequired decision.ActionRequired `json:"action_required"`
	SignalStatus   core.SignalStatus       `json:"signal_status"`
	Error          *core.SignalError       `json:"error,omitempty"`
	Explanation    string                  `json:"explanation,omitempty"`
}

// BuildLiveResponse renders a session verdict into the response contract.
// The result shares no memory with sv.
func BuildLiveResponse(sv *fusion.SessionVerdict) LiveResponse {
	return LiveResponse{
		RequestID:     sv.RequestID,
		SessionID:     sv.SessionID,
		Video:         scoreReport(sv.Video, sv.VideoVerdict),
		Audio:         scoreReport(sv.Audio, sv.AudioVerdict),
		Code:          codeReport(sv.Code),
		FinalVerdict:  sv.Outcome,
		FailureReason: sv.FailureReason,
		DecidedAt:     sv.DecidedAt,
		DurationMs:    sv.Duration.Milliseconds(),
	}
}

// BuildModalityResponse renders a single-modality verdict.
func BuildModalityResponse(sig core.ModalitySignal, v decision.Verdict) ModalityResponse {
	resp := ModalityResponse{
		Modality:       v.Modality,
		Classification: v.Classification,
		RiskLevel:      v.RiskLevel.String(),
		PolicyFlags:    flags(v.PolicyFlags),
		ActionRequired: v.ActionRequired,
		SignalStatus:   sig.Status,
		Error:          copyError(sig.Error),
	}
	if v.Scored {
		c := v.ReportedConfidence()
		resp.Confidence = &c
	}
	return resp
}

func scoreReport(sig core.ModalitySignal, v decision.Verdict) ScoreReport {
	r := ScoreReport{
		Status:      sig.Status,
		Verdict:     v.Classification,
		RiskLevel:   v.RiskLevel.String(),
		PolicyFlags: flags(v.PolicyFlags),
		Action:      v.ActionRequired,
		Error:       copyError(sig.Error),
	}
	if sig.Score != nil && v.Scored {
		s := decision.RoundConfidence(*sig.Score)
		r.Score = &s
		r.Category = v.Category.String()
	}
	return r
}

func codeReport(sig core.ModalitySignal) CodeReport {
	r := CodeReport{Status: sig.Status, Error: copyError(sig.Error)}
	if sig.Code != nil {
		c := decision.RoundConfidence(sig.Code.Confidence)
		r.Confidence = &c
		r.Transcript = sig.Code.Transcript
		if sig.Code.Matched != nil {
			m := *sig.Code.Matched
			r.Matched = &m
		}
	}
	return r
}

func flags(in []decision.PolicyFlag) []decision.PolicyFlag {
	out := make([]decision.PolicyFlag, len(in))
	copy(out, in)
	return out
}

func copyError(e *core.SignalError) *core.SignalError {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
