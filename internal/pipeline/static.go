package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

// ErrNotConfigured is reported by the placeholder pipelines used when no
// pipeline URL is configured.
var ErrNotConfigured = errors.New("pipeline not configured")

// StaticScoreSource returns a fixed report after an optional delay. Used for
// local runs and tests.
type StaticScoreSource struct {
	Report ScoreReport
	Err    error
	Delay  time.Duration
}

func (s *StaticScoreSource) Score(ctx context.Context, _ core.MediaRef) (ScoreReport, error) {
	if err := wait(ctx, s.Delay); err != nil {
		return ScoreReport{}, err
	}
	return s.Report, s.Err
}

// StaticTranscriber returns a fixed transcript after an optional delay.
type StaticTranscriber struct {
	Report TranscriptReport
	Err    error
	Delay  time.Duration
}

func (s *StaticTranscriber) Transcribe(ctx context.Context, _ core.MediaRef) (TranscriptReport, error) {
	if err := wait(ctx, s.Delay); err != nil {
		return TranscriptReport{}, err
	}
	return s.Report, s.Err
}

// Unconfigured is a score source that always reports FAILED. An absent
// pipeline never produces a score.
func Unconfigured() *StaticScoreSource {
	return &StaticScoreSource{Report: ScoreReport{Status: core.StatusFailed, Error: ErrNotConfigured.Error()}}
}

// UnconfiguredTranscriber always reports FAILED.
func UnconfiguredTranscriber() *StaticTranscriber {
	return &StaticTranscriber{Report: TranscriptReport{Status: core.StatusFailed, Error: ErrNotConfigured.Error()}}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
