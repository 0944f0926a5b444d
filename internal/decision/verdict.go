package decision

import (
	"math"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// RiskLevel is totally ordered; policy rules only move it rightwards.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the risk level by name in JSON.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// MaxRisk returns the higher of two levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}

// Classification is the verdict's label.
type Classification string

const (
	ClassificationReal      Classification = "REAL"
	ClassificationDeepfake  Classification = "DEEPFAKE"
	ClassificationUncertain Classification = "UNCERTAIN"
)

// ActionRequired tells the operator what to do next.
type ActionRequired string

const (
	ActionNone             ActionRequired = "NONE"
	ActionManualInspection ActionRequired = "MANUAL_INSPECTION"
)

// ActionFor derives the action from the final risk level.
func ActionFor(r RiskLevel) ActionRequired {
	if r >= RiskHigh {
		return ActionManualInspection
	}
	return ActionNone
}

// PolicyFlag is an audit-visible annotation explaining an escalation.
type PolicyFlag string

const (
	FlagExtremeConfidence PolicyFlag = "extreme confidence lock"
	FlagHumanReview       PolicyFlag = "requires human review"
	FlagOfflineEscalation PolicyFlag = "offline precautionary escalation"
	FlagDegradedSignal    PolicyFlag = "degraded signal"
	FlagSignalUnavailable PolicyFlag = "signal unavailable"
)

// Verdict is the single-modality decision.
//
// Confidence is the raw score that drove the classification; it is only
// rounded when reported. Scored is false when no score was available, in
// which case Confidence is meaningless.
type Verdict struct {
	Modality       core.Modality     `json:"modality"`
	Status         core.SignalStatus `json:"signal_status"`
	Category       ModalityCategory  `json:"category"`
	Classification Classification    `json:"classification"`
	RiskLevel      RiskLevel         `json:"risk_level"`
	Confidence     float64           `json:"confidence"`
	Scored         bool              `json:"scored"`
	PolicyFlags    []PolicyFlag      `json:"policy_flags"`
	ActionRequired ActionRequired    `json:"action_required"`
}

// ReportedConfidence is Confidence rounded to four decimal places.
func (v Verdict) ReportedConfidence() float64 {
	return RoundConfidence(v.Confidence)
}

// RoundConfidence rounds to four decimal places for reporting.
func RoundConfidence(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}

// HasFlag reports whether f was applied.
func (v Verdict) HasFlag(f PolicyFlag) bool {
	for _, got := range v.PolicyFlags {
		if got == f {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with v.
func (v Verdict) Clone() Verdict {
	out := v
	out.PolicyFlags = append([]PolicyFlag(nil), v.PolicyFlags...)
	return out
}
