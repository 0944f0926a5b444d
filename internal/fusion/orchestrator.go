// Package fusion runs the three analysis branches of a live verification
// session concurrently and fuses their results into one session verdict.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/pipeline"
)

// Settings bounds how long a request may wait on its pipelines.
type Settings struct {
	RequestDeadline time.Duration
	BranchTimeout   time.Duration
}

// DefaultSettings leaves a branch 12s inside a 15s request deadline.
func DefaultSettings() Settings {
	return Settings{RequestDeadline: 15 * time.Second, BranchTimeout: 12 * time.Second}
}

// Validate requires positive durations and a branch timeout that fits
// inside the request deadline.
func (s Settings) Validate() error {
	if s.RequestDeadline <= 0 {
		return &core.ConfigurationError{Field: "fusion.request_deadline_ms", Reason: "must be positive"}
	}
	if s.BranchTimeout <= 0 {
		return &core.ConfigurationError{Field: "fusion.branch_timeout_ms", Reason: "must be positive"}
	}
	if s.BranchTimeout > s.RequestDeadline {
		return &core.ConfigurationError{
			Field:  "fusion.branch_timeout_ms",
			Reason: fmt.Sprintf("%s exceeds request deadline %s", s.BranchTimeout, s.RequestDeadline),
		}
	}
	return nil
}

// Orchestrator fans a Request out to the video, audio and transcription
// pipelines and fuses the answers. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	engine      *decision.Engine
	matcher     *codematch.Matcher
	video       pipeline.ScoreSource
	audio       pipeline.ScoreSource
	transcriber pipeline.Transcriber
	settings    Settings
	metrics     *Metrics
	now         func() time.Time
}

// NewOrchestrator validates settings and wires the collaborators.
func NewOrchestrator(
	engine *decision.Engine,
	matcher *codematch.Matcher,
	video, audio pipeline.ScoreSource,
	transcriber pipeline.Transcriber,
	settings Settings,
) (*Orchestrator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if engine == nil || matcher == nil || video == nil || audio == nil || transcriber == nil {
		return nil, errors.New("fusion: engine, matcher and all three pipelines are required")
	}
	return &Orchestrator{
		engine:      engine,
		matcher:     matcher,
		video:       video,
		audio:       audio,
		transcriber: transcriber,
		settings:    settings,
		now:         time.Now,
	}, nil
}

// SetMetrics attaches Prometheus collectors.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// Engine returns the decision engine used for per-modality verdicts.
func (o *Orchestrator) Engine() *decision.Engine { return o.engine }

// Settings returns the timing configuration.
func (o *Orchestrator) Settings() Settings { return o.settings }

type branchResult struct {
	signal  core.ModalitySignal
	match   *codematch.Result
	elapsed time.Duration
}

// Verify runs one verification request to completion. It never returns an
// error: every failure is captured as a FAILED signal and reflected in the
// outcome.
func (o *Orchestrator) Verify(ctx context.Context, req Request) *SessionVerdict {
	started := o.now()
	phases := newPhaseTracker(o.now)

	ctx, cancel := context.WithTimeout(ctx, o.settings.RequestDeadline)
	defer cancel()

	o.mustAdvance(phases, PhaseCollecting)
	results := o.collect(ctx, req, started)

	o.mustAdvance(phases, PhaseFusing)
	sv := &SessionVerdict{
		RequestID: req.RequestID,
		SessionID: req.SessionID,
		Code:      results[core.ModalityCode].signal,
		CodeMatch: results[core.ModalityCode].match,
		StartedAt: started,
	}
	sv.Video, sv.VideoVerdict = o.decide(results[core.ModalityVideo].signal)
	sv.Audio, sv.AudioVerdict = o.decide(results[core.ModalityAudio].signal)
	sv.Outcome, sv.FailureReason = Fuse(sv.VideoVerdict, sv.AudioVerdict, sv.Code)

	o.mustAdvance(phases, PhaseDecided)
	sv.DecidedAt = o.now()
	sv.Duration = sv.DecidedAt.Sub(started)
	sv.Phases = phases.transitions()

	o.metrics.observeSession(sv)
	slog.Info("[Fusion] Session decided",
		"request_id", sv.RequestID,
		"session_id", sv.SessionID,
		"outcome", sv.Outcome,
		"reason", sv.FailureReason,
		"video", sv.Video.Status,
		"audio", sv.Audio.Status,
		"code", sv.Code.Status,
		"duration_ms", sv.Duration.Milliseconds(),
	)
	return sv
}

// Analyze scores a single VIDEO or AUDIO handle and applies the policy
// rules. Like Verify it never returns a pipeline error; failures come back
// as a FAILED signal with the unavailable verdict.
func (o *Orchestrator) Analyze(ctx context.Context, requestID string, m core.Modality, ref core.MediaRef) (core.ModalitySignal, decision.Verdict, error) {
	var src pipeline.ScoreSource
	switch m {
	case core.ModalityVideo:
		src = o.video
	case core.ModalityAudio:
		src = o.audio
	default:
		return core.ModalitySignal{}, decision.Verdict{}, fmt.Errorf("modality %s cannot be analyzed alone", m)
	}

	ctx, cancel := context.WithTimeout(ctx, o.settings.RequestDeadline)
	defer cancel()
	bctx, bcancel := context.WithTimeout(ctx, o.settings.BranchTimeout)
	defer bcancel()

	start := o.now()
	sig := o.scoreBranch(ctx, bctx, m, src, ref)
	o.metrics.observeBranch(sig, o.now().Sub(start))

	sig, v := o.decide(sig)
	slog.Info("[Fusion] Modality decided",
		"request_id", requestID,
		"session_id", ref.SessionID,
		"modality", m,
		"status", sig.Status,
		"classification", v.Classification,
		"risk", v.RiskLevel.String(),
	)
	return sig, v, nil
}

func (o *Orchestrator) mustAdvance(p *phaseTracker, to Phase) {
	if err := p.advance(to); err != nil {
		slog.Error("[Fusion] Phase tracking broken", "error", err)
	}
}

// collect fans out one goroutine per modality and waits until all three
// report or the request context ends. Branches still pending at that point
// are recorded as FAILED.
func (o *Orchestrator) collect(ctx context.Context, req Request, started time.Time) map[core.Modality]branchResult {
	out := make(chan branchResult, len(core.Modalities))
	for _, m := range core.Modalities {
		go o.runBranch(ctx, m, req, out)
	}

	collected := make(map[core.Modality]branchResult, len(core.Modalities))
	for len(collected) < len(core.Modalities) {
		select {
		case r := <-out:
			collected[r.signal.Modality] = r
			o.metrics.observeBranch(r.signal, r.elapsed)
		case <-ctx.Done():
			o.drain(out, collected)
			elapsed := o.now().Sub(started)
			for _, m := range core.Modalities {
				if _, ok := collected[m]; ok {
					continue
				}
				r := branchResult{signal: core.FailedSignal(m, requestEnded(ctx, m, elapsed)), elapsed: elapsed}
				collected[m] = r
				o.metrics.observeBranch(r.signal, r.elapsed)
				slog.Warn("[Fusion] Branch abandoned", "request_id", req.RequestID, "modality", m, "error", r.signal.Error)
			}
		}
	}
	return collected
}

// drain keeps results that arrived in the same instant the context ended.
func (o *Orchestrator) drain(out <-chan branchResult, collected map[core.Modality]branchResult) {
	for {
		select {
		case r := <-out:
			collected[r.signal.Modality] = r
			o.metrics.observeBranch(r.signal, r.elapsed)
		default:
			return
		}
	}
}

func (o *Orchestrator) runBranch(ctx context.Context, m core.Modality, req Request, out chan<- branchResult) {
	start := o.now()
	bctx, cancel := context.WithTimeout(ctx, o.settings.BranchTimeout)
	defer cancel()

	var r branchResult
	switch m {
	case core.ModalityVideo:
		r.signal = o.scoreBranch(ctx, bctx, m, o.video, req.MediaFor(m))
	case core.ModalityAudio:
		r.signal = o.scoreBranch(ctx, bctx, m, o.audio, req.MediaFor(m))
	case core.ModalityCode:
		r.signal, r.match = o.codeBranch(ctx, bctx, req)
	}
	r.elapsed = o.now().Sub(start)

	if r.signal.Status != core.StatusOK {
		slog.Warn("[Fusion] Branch returned untrusted signal",
			"request_id", req.RequestID,
			"modality", m,
			"status", r.signal.Status,
			"error", r.signal.Error,
		)
	}
	out <- r
}

func (o *Orchestrator) scoreBranch(ctx, bctx context.Context, m core.Modality, src pipeline.ScoreSource, ref core.MediaRef) core.ModalitySignal {
	if ref.URI == "" {
		return core.FailedSignal(m, core.ErrMissingMedia)
	}

	report, err := await(bctx, func(c context.Context) (pipeline.ScoreReport, error) {
		return src.Score(c, ref)
	})
	if err != nil {
		return core.FailedSignal(m, o.branchError(ctx, bctx, m, err))
	}
	return scoreSignal(m, report)
}

// scoreSignal converts a pipeline report into a signal. Values outside
// [0,1] are rejected, never clamped.
func scoreSignal(m core.Modality, report pipeline.ScoreReport) core.ModalitySignal {
	switch report.Status {
	case core.StatusFailed:
		return core.FailedSignal(m, &core.UpstreamFailureError{Modality: m, Cause: reportedError(report.Error)})
	case core.StatusOK, core.StatusDegraded:
	default:
		return core.FailedSignal(m, &core.UpstreamFailureError{
			Modality: m,
			Cause:    fmt.Errorf("unknown status %q", report.Status),
		})
	}

	if report.Value == nil {
		return core.FailedSignal(m, &core.UpstreamFailureError{Modality: m, Cause: errors.New("response carried no score")})
	}
	v := *report.Value
	if math.IsNaN(v) || v < 0 || v > 1 {
		return core.FailedSignal(m, &core.MalformedSignalError{Modality: m, Value: v, Reason: "score outside [0,1]"})
	}

	if report.Status == core.StatusDegraded {
		return core.DegradedScoreSignal(m, v, &core.DegradedSignalError{Modality: m, Reason: report.Error})
	}
	return core.ScoreSignal(m, v)
}

func (o *Orchestrator) codeBranch(ctx, bctx context.Context, req Request) (core.ModalitySignal, *codematch.Result) {
	const m = core.ModalityCode

	if codematch.Normalize(req.ExpectedCode) == "" {
		return core.FailedSignal(m, core.ErrNoChallengeCode), nil
	}
	ref := req.MediaFor(m)
	if ref.URI == "" {
		return core.FailedSignal(m, core.ErrMissingMedia), nil
	}

	report, err := await(bctx, func(c context.Context) (pipeline.TranscriptReport, error) {
		return o.transcriber.Transcribe(c, ref)
	})
	if err != nil {
		return core.FailedSignal(m, o.branchError(ctx, bctx, m, err)), nil
	}

	switch report.Status {
	case core.StatusOK, core.StatusDegraded:
	case core.StatusFailed:
		return core.FailedSignal(m, &core.UpstreamFailureError{Modality: m, Cause: reportedError(report.Error)}), nil
	default:
		return core.FailedSignal(m, &core.UpstreamFailureError{
			Modality: m,
			Cause:    fmt.Errorf("unknown status %q", report.Status),
		}), nil
	}

	// Silence is not evidence of a mismatch.
	if codematch.Normalize(report.Transcript) == "" {
		return core.FailedSignal(m, &core.UpstreamFailureError{Modality: m, Cause: core.ErrEmptyTranscript}), nil
	}

	res := o.matcher.Match(report.Transcript, req.ExpectedCode)
	ev := core.CodeEvidence{Matched: &res.Matched, Confidence: res.Confidence, Transcript: report.Transcript}
	if report.Status == core.StatusDegraded {
		return core.DegradedCodeSignal(ev, &core.DegradedSignalError{Modality: m, Reason: report.Error}), &res
	}
	return core.CodeSignal(ev), &res
}

// decide turns a collected score signal into a policy verdict. A FAILED
// signal yields the unavailable verdict and no score is substituted.
func (o *Orchestrator) decide(sig core.ModalitySignal) (core.ModalitySignal, decision.Verdict) {
	if sig.Status == core.StatusFailed || sig.Score == nil {
		v := o.engine.Unavailable(sig.Modality)
		o.metrics.ObserveDecision(v)
		return sig, v
	}

	v, err := o.engine.Decide(sig.Modality, *sig.Score, sig.Status)
	if err != nil {
		failed := core.FailedSignal(sig.Modality, err)
		v = o.engine.Unavailable(sig.Modality)
		o.metrics.ObserveDecision(v)
		return failed, v
	}
	o.metrics.ObserveDecision(v)
	return sig, v
}

// branchError attributes a branch failure. The request context is checked
// first so a caller cancellation or the global deadline is not reported as
// a pipeline fault.
func (o *Orchestrator) branchError(ctx, bctx context.Context, m core.Modality, err error) error {
	switch {
	case ctx.Err() != nil:
		return requestEnded(ctx, m, o.settings.RequestDeadline)
	case bctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded):
		return &core.UpstreamTimeoutError{Modality: m, After: o.settings.BranchTimeout}
	default:
		return &core.UpstreamFailureError{Modality: m, Cause: err}
	}
}

func requestEnded(ctx context.Context, m core.Modality, after time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &core.UpstreamTimeoutError{Modality: m, After: after, Deadline: true}
	}
	return fmt.Errorf("%s branch: %w", m, ctx.Err())
}

func reportedError(msg string) error {
	if msg == "" {
		return errors.New("pipeline reported failure")
	}
	return errors.New(msg)
}

// await runs fn in its own goroutine so a pipeline that ignores ctx still
// cannot hold the branch past its timeout.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
