package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedanshGovind/FinGuard-AI/internal/challenge"
	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/codematch"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
	"github.com/VedanshGovind/FinGuard-AI/internal/explain"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
	"github.com/VedanshGovind/FinGuard-AI/internal/middleware"
	"github.com/VedanshGovind/FinGuard-AI/internal/pipeline"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*emitter.Event
}

func (p *capturePublisher) Emit(ev *emitter.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *capturePublisher) last() *emitter.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

type testEnv struct {
	handler   http.Handler
	issuer    *challenge.Issuer
	publisher *capturePublisher
	bus       *emitter.Bus
	reg       *prometheus.Registry
	spoken    string
	video     float64
}

func newTestEnv(t *testing.T, limiter *middleware.RateLimiter) *testEnv {
	t.Helper()
	env := &testEnv{publisher: &capturePublisher{}, bus: emitter.NewBus(), reg: prometheus.NewRegistry(), video: 0.10}

	engine, err := decision.NewEngine(decision.Settings{
		Video:   decision.Thresholds{Low: 0.40, High: 0.75},
		Audio:   decision.Thresholds{Low: 0.30, High: 0.70},
		Offline: true,
	})
	require.NoError(t, err)
	matcher, err := codematch.NewMatcher(codematch.DefaultThreshold)
	require.NoError(t, err)

	video := pipeline.ScoreSourceFunc(func(ctx context.Context, _ core.MediaRef) (pipeline.ScoreReport, error) {
		return pipeline.OK(env.video), nil
	})
	audio := &pipeline.StaticScoreSource{Report: pipeline.OK(0.05)}
	transcriber := pipeline.TranscriberFunc(func(ctx context.Context, _ core.MediaRef) (pipeline.TranscriptReport, error) {
		return pipeline.TranscriptReport{Status: core.StatusOK, Transcript: env.spoken}, nil
	})

	orch, err := fusion.NewOrchestrator(engine, matcher, video, audio, transcriber,
		fusion.Settings{RequestDeadline: time.Second, BranchTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	orch.SetMetrics(fusion.NewMetrics(env.reg))

	env.issuer, err = challenge.NewIssuer(challenge.NewMemoryStore(), 6, time.Minute)
	require.NoError(t, err)

	ex, err := explain.New()
	require.NoError(t, err)

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(""), env.reg)
	breakers.Get("video")

	env.handler = NewServer(Deps{
		Verifier:        orch,
		Challenges:      env.issuer,
		Publisher:       env.publisher,
		Explainer:       ex,
		Bus:             env.bus,
		Breakers:        breakers,
		Limiter:         limiter,
		Gatherer:        env.reg,
		Mode:            "EDGE_OFFLINE",
		Offline:         true,
		StreamHeartbeat: 50 * time.Millisecond,
	}).Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestVerifyLive_PassWithIssuedChallenge(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/challenges", `{"session_id":"sess-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	issued := decode[challenge.Challenge](t, rec)
	assert.Len(t, issued.Code, 6)

	env.spoken = strings.ToLower(strings.Join(strings.Split(issued.Code, ""), " "))

	rec = env.do(t, http.MethodPost, "/api/v1/verify/live",
		`{"session_id":"sess-1","media":{"recording":"s3://bucket/sess-1.webm"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	resp := decode[emitter.LiveResponse](t, rec)
	assert.Equal(t, fusion.OutcomePass, resp.FinalVerdict)
	assert.Empty(t, resp.FailureReason)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), resp.RequestID)
	require.NotNil(t, resp.Code.Matched)
	assert.True(t, *resp.Code.Matched)
	assert.Equal(t, decision.ClassificationReal, resp.Video.Verdict)
	assert.True(t, strings.HasPrefix(resp.Explanation, "Session sess-1: PASS."))

	ev := env.publisher.last()
	require.NotNil(t, ev)
	assert.Equal(t, emitter.EventSessionDecided, ev.Type)
	assert.Equal(t, "PASS", ev.Outcome())
	assert.True(t, ev.Explained(), "event reuses the response text")
	assert.Equal(t, resp.Explanation, ev.Data.(emitter.LiveResponse).Explanation)

	_, err := env.issuer.Resolve(context.Background(), "sess-1")
	assert.ErrorIs(t, err, core.ErrChallengeNotFound, "decided session consumes its challenge")
}

func TestVerifyLive_CodeMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spoken = "A B 1 2 C D"

	rec := env.do(t, http.MethodPost, "/api/v1/verify/live",
		`{"session_id":"sess-2","expected_code":"ZZZZZZ","media":{"video":"v.mp4","audio":"a.wav","code":"a.wav"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[emitter.LiveResponse](t, rec)
	assert.Equal(t, fusion.OutcomeFail, resp.FinalVerdict)
	assert.Equal(t, fusion.ReasonCodeMismatch, resp.FailureReason)
	assert.False(t, *resp.Code.Matched)
	assert.Contains(t, resp.Explanation, "did not match")
}

func TestVerifyLive_DeepfakeVideo(t *testing.T) {
	env := newTestEnv(t, nil)
	env.spoken = "AB12CD"
	env.video = 0.99

	rec := env.do(t, http.MethodPost, "/api/v1/verify/live",
		`{"session_id":"sess-3","expected_code":"AB12CD","media":{"recording":"r.webm"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[emitter.LiveResponse](t, rec)
	assert.Equal(t, fusion.OutcomeFail, resp.FinalVerdict)
	assert.Equal(t, fusion.ReasonDeepfakeDetected, resp.FailureReason)
	assert.Equal(t, "CRITICAL", resp.Video.RiskLevel)
	assert.Equal(t, []decision.PolicyFlag{decision.FlagExtremeConfidence}, resp.Video.PolicyFlags)
}

func TestVerifyLive_NoChallengeKnown(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/verify/live",
		`{"session_id":"unknown","media":{"recording":"r.webm"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[emitter.LiveResponse](t, rec)
	assert.Equal(t, fusion.OutcomePass, resp.FinalVerdict, "an unavailable code never fails the session")
	assert.Equal(t, core.StatusFailed, resp.Code.Status)
	assert.Equal(t, core.KindNoChallengeCode, resp.Code.Error.Kind)
	assert.Nil(t, resp.Code.Matched)
}

func TestVerifyLive_RejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := map[string]string{
		"invalid json":    `{"session_id":`,
		"missing session": `{"media":{"recording":"r.webm"}}`,
		"missing media":   `{"session_id":"s"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/verify/live", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
		})
	}
	assert.Nil(t, env.publisher.last(), "rejected requests emit nothing")
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t, nil)
	env.video = 0.5

	rec := env.do(t, http.MethodPost, "/api/v1/analyze/video", `{"session_id":"s","media_uri":"v.mp4"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[emitter.ModalityResponse](t, rec)
	assert.Equal(t, core.ModalityVideo, resp.Modality)
	assert.Equal(t, decision.ClassificationUncertain, resp.Classification)
	assert.Equal(t, "HIGH", resp.RiskLevel)
	assert.Equal(t, []decision.PolicyFlag{decision.FlagHumanReview, decision.FlagOfflineEscalation}, resp.PolicyFlags)
	assert.Equal(t, decision.ActionManualInspection, resp.ActionRequired)
	require.NotNil(t, resp.Confidence)
	assert.Equal(t, 0.5, *resp.Confidence)
	assert.Contains(t, resp.Explanation, "Manual inspection required.")

	ev := env.publisher.last()
	require.NotNil(t, ev)
	assert.Equal(t, emitter.EventModalityDecided, ev.Type)
	assert.Equal(t, resp.Explanation, ev.Data.(emitter.ModalityResponse).Explanation)
}

func TestAnalyze_Rejects(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/analyze/code", `{"media_uri":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/analyze/text", `{"media_uri":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/analyze/audio", `{"session_id":"s"}`).Code)
}

func TestIssueChallenge_GeneratesSessionID(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/challenges", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[challenge.Challenge](t, rec)
	assert.Len(t, c.SessionID, 36)
	assert.True(t, c.ExpiresAt.After(c.IssuedAt))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "EDGE_OFFLINE", resp.Mode)
	assert.True(t, resp.Offline)
	require.NotNil(t, resp.Pipelines)
	assert.Len(t, resp.Pipelines.Breakers, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/verify/live", `{"session_id":"m","expected_code":"AB12CD","media":{"recording":"r"}}`)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "liveverify_sessions_total")
	assert.Contains(t, rec.Body.String(), "liveverify_breaker_state")
}

func TestRateLimitApplied(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()
	env := newTestEnv(t, limiter)

	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/v1/challenges", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/api/v1/challenges", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", "").Code, "health is not limited")
}

func TestVerdictStream(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/verdicts/stream?type=session", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return env.bus.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	sink := emitter.NewBusSink(env.bus)
	require.NoError(t, sink.Deliver(ctx, emitter.NewModalityEvent("r", "s",
		core.ScoreSignal(core.ModalityAudio, 0.1), decision.Verdict{Modality: core.ModalityAudio})))
	require.NoError(t, sink.Deliver(ctx, emitter.NewSessionEvent(&fusion.SessionVerdict{
		RequestID: "r-stream", SessionID: "s-stream", Outcome: fusion.OutcomePass,
	})))

	var frame bytes.Buffer
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": ping") || (line == "\n" && frame.Len() == 0) {
			continue
		}
		if line == "\n" {
			break
		}
		frame.WriteString(line)
	}
	assert.Contains(t, frame.String(), "event: verification.session.decided\n")
	assert.Contains(t, frame.String(), `"session_id":"s-stream"`)
	assert.NotContains(t, frame.String(), "modality.decided", "filtered to session events")
}
