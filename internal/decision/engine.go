package decision

import (
	"fmt"
	"math"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// Settings is the static decision configuration.
type Settings struct {
	Video   Thresholds
	Audio   Thresholds
	Offline bool
}

// Engine makes single-modality decisions. It is immutable after NewEngine
// and safe for concurrent use.
type Engine struct {
	video   Thresholds
	audio   Thresholds
	offline bool
	rules   []Rule
}

// NewEngine validates the thresholds and builds an engine with the default
// rule set.
func NewEngine(s Settings) (*Engine, error) {
	if err := s.Video.Validate("thresholds.video"); err != nil {
		return nil, err
	}
	if err := s.Audio.Validate("thresholds.audio"); err != nil {
		return nil, err
	}
	return &Engine{
		video:   s.Video,
		audio:   s.Audio,
		offline: s.Offline,
		rules:   DefaultRules(),
	}, nil
}

// Offline reports whether the engine runs in the disconnected mode.
func (e *Engine) Offline() bool { return e.offline }

// Thresholds returns the pair configured for m.
func (e *Engine) Thresholds(m core.Modality) (Thresholds, error) {
	switch m {
	case core.ModalityVideo:
		return e.video, nil
	case core.ModalityAudio:
		return e.audio, nil
	default:
		return Thresholds{}, fmt.Errorf("modality %s has no score thresholds", m)
	}
}

// Decide classifies a score and runs the policy rules over it. NaN and
// out-of-range scores are rejected with a MalformedSignalError before any
// rule sees them.
func (e *Engine) Decide(m core.Modality, score float64, status core.SignalStatus) (Verdict, error) {
	t, err := e.Thresholds(m)
	if err != nil {
		return Verdict{}, err
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return Verdict{}, &core.MalformedSignalError{Modality: m, Value: score, Reason: "score outside [0,1]"}
	}
	if status != core.StatusOK && status != core.StatusDegraded {
		return Verdict{}, fmt.Errorf("cannot decide on %s signal with status %s", m, status)
	}

	category := Classify(score, t)
	classification, risk := baseDecision(category)

	res := ApplyPolicy(e.rules, RuleInput{
		Category:       category,
		Score:          score,
		Status:         status,
		Offline:        e.offline,
		Classification: classification,
		Risk:           risk,
	})

	return Verdict{
		Modality:       m,
		Status:         status,
		Category:       category,
		Classification: res.Classification,
		RiskLevel:      res.Risk,
		Confidence:     score,
		Scored:         true,
		PolicyFlags:    res.Flags,
		ActionRequired: res.Action,
	}, nil
}

// Unavailable is the verdict for a modality whose signal FAILED. No score is
// substituted; the verdict is UNCERTAIN and routed to an operator.
func (e *Engine) Unavailable(m core.Modality) Verdict {
	return Verdict{
		Modality:       m,
		Status:         core.StatusFailed,
		Category:       CategoryNone,
		Classification: ClassificationUncertain,
		RiskLevel:      RiskHigh,
		PolicyFlags:    []PolicyFlag{FlagSignalUnavailable},
		ActionRequired: ActionFor(RiskHigh),
	}
}

func baseDecision(c ModalityCategory) (Classification, RiskLevel) {
	switch c {
	case CategorySuspect:
		return ClassificationDeepfake, RiskHigh
	case CategoryClean:
		return ClassificationReal, RiskLow
	default:
		return ClassificationUncertain, RiskMedium
	}
}
