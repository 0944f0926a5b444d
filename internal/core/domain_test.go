package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalConstructors_SatisfyInvariants(t *testing.T) {
	matched := true
	signals := []ModalitySignal{
		ScoreSignal(ModalityVideo, 0.2),
		DegradedScoreSignal(ModalityAudio, 0.6, &DegradedSignalError{Modality: ModalityAudio, Reason: "heuristic"}),
		CodeSignal(CodeEvidence{Matched: &matched, Confidence: 1, Transcript: "AB12CD"}),
		DegradedCodeSignal(CodeEvidence{Matched: &matched, Confidence: 0.8}, errors.New("low snr")),
		FailedSignal(ModalityVideo, &UpstreamTimeoutError{Modality: ModalityVideo, After: time.Second}),
		FailedSignal(ModalityCode, ErrNoChallengeCode),
	}

	for _, s := range signals {
		assert.NoError(t, s.Validate(), "%s/%s", s.Modality, s.Status)
	}
}

func TestSignalValidate_RejectsBrokenInvariants(t *testing.T) {
	score := 0.4
	nan := math.NaN()
	tooHigh := 1.2

	cases := map[string]ModalitySignal{
		"ok without value":     {Modality: ModalityVideo, Status: StatusOK},
		"failed with value":    {Modality: ModalityAudio, Status: StatusFailed, Score: &score, Error: &SignalError{Kind: KindTimeout}},
		"ok with error":        {Modality: ModalityVideo, Status: StatusOK, Score: &score, Error: &SignalError{Kind: KindInternal}},
		"degraded without err": {Modality: ModalityVideo, Status: StatusDegraded, Score: &score},
		"nan score":            {Modality: ModalityVideo, Status: StatusOK, Score: &nan},
		"score above one":      {Modality: ModalityAudio, Status: StatusOK, Score: &tooHigh},
		"code with score":      {Modality: ModalityCode, Status: StatusOK, Score: &score},
		"unknown status":       {Modality: ModalityVideo, Status: "MAYBE", Score: &score},
	}

	for name, s := range cases {
		assert.Error(t, s.Validate(), name)
	}
}

func TestDescribeError_Kinds(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{&UpstreamTimeoutError{Modality: ModalityVideo, After: time.Second}, KindTimeout},
		{&UpstreamTimeoutError{Modality: ModalityVideo, After: time.Second, Deadline: true}, KindDeadline},
		{&MalformedSignalError{Modality: ModalityAudio, Value: 2}, KindMalformedSignal},
		{&UpstreamFailureError{Modality: ModalityCode, Cause: errors.New("503")}, KindUpstreamFailure},
		{&UpstreamFailureError{Modality: ModalityCode, Cause: context.Canceled}, KindCancelled},
		{fmt.Errorf("lookup: %w", ErrNoChallengeCode), KindNoChallengeCode},
		{&DegradedSignalError{Modality: ModalityAudio}, KindDegraded},
		{errors.New("boom"), KindInternal},
	}

	for _, tc := range cases {
		d := DescribeError(tc.err)
		require.NotNil(t, d)
		assert.Equal(t, tc.kind, d.Kind, tc.err.Error())
		assert.Equal(t, tc.err.Error(), d.Message)
	}

	assert.Nil(t, DescribeError(nil))
}

func TestSignalClone_IsDeep(t *testing.T) {
	matched := false
	orig := CodeSignal(CodeEvidence{Matched: &matched, Confidence: 0.3, Transcript: "XYZ"})
	cp := orig.Clone()

	*cp.Code.Matched = true
	cp.Code.Transcript = "changed"

	assert.False(t, *orig.Code.Matched)
	assert.Equal(t, "XYZ", orig.Code.Transcript)
}

func TestParseModality(t *testing.T) {
	m, err := ParseModality("video")
	require.NoError(t, err)
	assert.Equal(t, ModalityVideo, m)

	_, err = ParseModality("smell")
	assert.Error(t, err)
}
