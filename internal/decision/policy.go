package decision

import "github.com/VedanshGovind/FinGuard-AI/internal/core"

// ExtremeConfidenceScore is the score above which the lock rule fires.
const ExtremeConfidenceScore = 0.98

// RuleInput is everything a rule may look at. Classification and Risk are
// the working values after the rules that ran before it.
type RuleInput struct {
	Category       ModalityCategory
	Score          float64
	Status         core.SignalStatus
	Offline        bool
	Classification Classification
	Risk           RiskLevel
}

// Delta is what a rule wants to change. The reducer only ever raises risk
// to MinRisk and only ever replaces the classification with UNCERTAIN.
type Delta struct {
	MinRisk        RiskLevel
	ForceUncertain bool
	Flag           PolicyFlag
}

// Rule is a pure, total policy rule. ok is false when the rule does not
// apply to the input.
type Rule struct {
	Name string
	Eval func(in RuleInput) (d Delta, ok bool)
}

// PolicyResult is the reduced outcome of a rule set.
type PolicyResult struct {
	Classification Classification
	Risk           RiskLevel
	Flags          []PolicyFlag
	Action         ActionRequired
}

// DefaultRules returns the rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "extreme_confidence_lock", Eval: extremeConfidenceLock},
		{Name: "ambiguity_zone_override", Eval: ambiguityZoneOverride},
		{Name: "offline_escalation", Eval: offlineEscalation},
		{Name: "degraded_signal", Eval: degradedSignal},
	}
}

// Near-certain model outputs get operator attention on either side of the
// thresholds.
func extremeConfidenceLock(in RuleInput) (Delta, bool) {
	if in.Score > ExtremeConfidenceScore {
		return Delta{MinRisk: RiskCritical, Flag: FlagExtremeConfidence}, true
	}
	return Delta{}, false
}

func ambiguityZoneOverride(in RuleInput) (Delta, bool) {
	if in.Category == CategoryAmbiguous {
		return Delta{MinRisk: RiskMedium, ForceUncertain: true, Flag: FlagHumanReview}, true
	}
	return Delta{}, false
}

// Without a reachable review backend uncertainty cannot be deferred.
func offlineEscalation(in RuleInput) (Delta, bool) {
	if in.Offline && in.Classification == ClassificationUncertain {
		return Delta{MinRisk: RiskHigh, Flag: FlagOfflineEscalation}, true
	}
	return Delta{}, false
}

func degradedSignal(in RuleInput) (Delta, bool) {
	if in.Status == core.StatusDegraded {
		return Delta{MinRisk: RiskMedium, Flag: FlagDegradedSignal}, true
	}
	return Delta{}, false
}

// ApplyPolicy reduces rules left to right over the base decision in in.
// The returned risk is never lower than in.Risk.
func ApplyPolicy(rules []Rule, in RuleInput) PolicyResult {
	work := in
	var flags []PolicyFlag

	for _, r := range rules {
		d, ok := r.Eval(work)
		if !ok {
			continue
		}
		work.Risk = MaxRisk(work.Risk, d.MinRisk)
		if d.ForceUncertain {
			work.Classification = ClassificationUncertain
		}
		if d.Flag != "" {
			flags = append(flags, d.Flag)
		}
	}

	return PolicyResult{
		Classification: work.Classification,
		Risk:           work.Risk,
		Flags:          flags,
		Action:         ActionFor(work.Risk),
	}
}
