package explain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

func newExplainer(t *testing.T) *Explainer {
	t.Helper()
	e, err := New()
	require.NoError(t, err)
	return e
}

func TestVerdict_Scored(t *testing.T) {
	v := decision.Verdict{
		Modality:       core.ModalityVideo,
		Status:         core.StatusOK,
		Category:       decision.CategoryAmbiguous,
		Classification: decision.ClassificationUncertain,
		RiskLevel:      decision.RiskHigh,
		Confidence:     0.5,
		Scored:         true,
		PolicyFlags:    []decision.PolicyFlag{decision.FlagHumanReview, decision.FlagOfflineEscalation},
		ActionRequired: decision.ActionManualInspection,
	}

	got, err := newExplainer(t).Verdict(v)
	require.NoError(t, err)
	assert.Equal(t,
		"VIDEO: classified UNCERTAIN at 50.0% deepfake likelihood (AMBIGUOUS band), risk HIGH. "+
			"Policy: requires human review; offline precautionary escalation. Manual inspection required.",
		got)
}

func TestVerdict_Unscored(t *testing.T) {
	e := newExplainer(t)
	engine, err := decision.NewEngine(decision.Settings{
		Video: decision.Thresholds{Low: 0.4, High: 0.75},
		Audio: decision.Thresholds{Low: 0.3, High: 0.7},
	})
	require.NoError(t, err)

	got, err := e.Verdict(engine.Unavailable(core.ModalityAudio))
	require.NoError(t, err)
	assert.Contains(t, got, "AUDIO: no score was available")
	assert.Contains(t, got, "signal unavailable")
	assert.NotContains(t, got, "likelihood")
}

func TestSession(t *testing.T) {
	matched := false
	sv := &fusion.SessionVerdict{
		SessionID:     "sess-9",
		Outcome:       fusion.OutcomeFail,
		FailureReason: fusion.ReasonCodeMismatch,
		VideoVerdict: decision.Verdict{
			Modality: core.ModalityVideo, Scored: true, Confidence: 0.1,
			Classification: decision.ClassificationReal, Category: decision.CategoryClean, RiskLevel: decision.RiskLow,
		},
		AudioVerdict: decision.Verdict{
			Modality: core.ModalityAudio, Scored: true, Confidence: 0.2,
			Classification: decision.ClassificationReal, Category: decision.CategoryClean, RiskLevel: decision.RiskLow,
		},
		Code: core.CodeSignal(core.CodeEvidence{Matched: &matched, Confidence: 0.25, Transcript: "ZZ"}),
	}

	got, err := newExplainer(t).Session(sv)
	require.NoError(t, err)
	assert.Contains(t, got, "Session sess-9: FAIL (code_mismatch).")
	assert.Contains(t, got, "did not match the challenge (25% similarity)")
	assert.Contains(t, got, "  - VIDEO: classified REAL at 10.0%")
}

func TestSession_FailedCode(t *testing.T) {
	sv := &fusion.SessionVerdict{
		SessionID: "s",
		Outcome:   fusion.OutcomePass,
		Code:      core.FailedSignal(core.ModalityCode, core.ErrNoChallengeCode),
	}
	got, err := newExplainer(t).Session(sv)
	require.NoError(t, err)
	assert.Contains(t, got, "CODE: unavailable (no challenge code associated with session).")
	assert.Contains(t, got, "consistent with a live, genuine subject")
}
