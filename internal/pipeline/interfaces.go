// Package pipeline defines the upstream analysis collaborators the fusion
// orchestrator fans out to, with HTTP and static implementations.
package pipeline

import (
	"context"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// ScoreReport is what a video or audio pipeline returns. Value is decoded
// as float64 so that boundary scores compare exactly against thresholds.
type ScoreReport struct {
	Status core.SignalStatus `json:"status"`
	Value  *float64          `json:"value,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// TranscriptReport is what the transcription pipeline returns.
type TranscriptReport struct {
	Status     core.SignalStatus `json:"status"`
	Transcript string            `json:"transcript"`
	Error      string            `json:"error,omitempty"`
}

// ScoreSource produces a deepfake-likelihood score for one media handle.
type ScoreSource interface {
	Score(ctx context.Context, ref core.MediaRef) (ScoreReport, error)
}

// Transcriber turns spoken audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, ref core.MediaRef) (TranscriptReport, error)
}

// ScoreSourceFunc adapts a function to ScoreSource.
type ScoreSourceFunc func(ctx context.Context, ref core.MediaRef) (ScoreReport, error)

func (f ScoreSourceFunc) Score(ctx context.Context, ref core.MediaRef) (ScoreReport, error) {
	return f(ctx, ref)
}

// TranscriberFunc adapts a function to Transcriber.
type TranscriberFunc func(ctx context.Context, ref core.MediaRef) (TranscriptReport, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, ref core.MediaRef) (TranscriptReport, error) {
	return f(ctx, ref)
}

// OK builds a successful score report.
func OK(value float64) ScoreReport {
	return ScoreReport{Status: core.StatusOK, Value: &value}
}
