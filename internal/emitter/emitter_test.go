package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/explain"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

func sampleSession() *fusion.SessionVerdict {
	matched := true
	video, audio := 0.12345, 0.8
	return &fusion.SessionVerdict{
		RequestID: "req-7",
		SessionID: "sess-7",
		Video:     core.ModalitySignal{Modality: core.ModalityVideo, Status: core.StatusOK, Score: &video},
		Audio:     core.ModalitySignal{Modality: core.ModalityAudio, Status: core.StatusOK, Score: &audio},
		Code:      core.CodeSignal(core.CodeEvidence{Matched: &matched, Confidence: 1, Transcript: "AB12CD"}),
		VideoVerdict: decision.Verdict{
			Modality: core.ModalityVideo, Status: core.StatusOK, Category: decision.CategoryClean,
			Classification: decision.ClassificationReal, RiskLevel: decision.RiskLow, Confidence: video, Scored: true,
			PolicyFlags: []decision.PolicyFlag{}, ActionRequired: decision.ActionNone,
		},
		AudioVerdict: decision.Verdict{
			Modality: core.ModalityAudio, Status: core.StatusOK, Category: decision.CategorySuspect,
			Classification: decision.ClassificationDeepfake, RiskLevel: decision.RiskHigh, Confidence: audio, Scored: true,
			PolicyFlags: []decision.PolicyFlag{decision.FlagHumanReview}, ActionRequired: decision.ActionManualInspection,
		},
		Outcome:       fusion.OutcomeFail,
		FailureReason: fusion.ReasonDeepfakeDetected,
		DecidedAt:     time.Unix(1700000000, 0).UTC(),
	}
}

// recordingSink captures delivered events.
type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestBuildLiveResponse(t *testing.T) {
	resp := BuildLiveResponse(sampleSession())

	assert.Equal(t, fusion.OutcomeFail, resp.FinalVerdict)
	assert.Equal(t, fusion.ReasonDeepfakeDetected, resp.FailureReason)
	require.NotNil(t, resp.Video.Score)
	assert.Equal(t, 0.1235, *resp.Video.Score)
	assert.Equal(t, "CLEAN", resp.Video.Category)
	assert.Equal(t, decision.ClassificationDeepfake, resp.Audio.Verdict)
	assert.Equal(t, "HIGH", resp.Audio.RiskLevel)
	assert.True(t, *resp.Code.Matched)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"final_verdict":"FAIL"`)
	assert.Contains(t, string(body), `"failure_reason":"deepfake_detected"`)
}

func TestBuildLiveResponse_FailedSignalsOmitValues(t *testing.T) {
	sv := sampleSession()
	sv.Video = core.FailedSignal(core.ModalityVideo, &core.UpstreamTimeoutError{Modality: core.ModalityVideo, After: time.Second})
	sv.VideoVerdict = decision.Verdict{Modality: core.ModalityVideo, Status: core.StatusFailed, Classification: decision.ClassificationUncertain}
	sv.Code = core.FailedSignal(core.ModalityCode, core.ErrNoChallengeCode)

	resp := BuildLiveResponse(sv)
	assert.Nil(t, resp.Video.Score)
	assert.Empty(t, resp.Video.Category)
	assert.Equal(t, core.KindTimeout, resp.Video.Error.Kind)
	assert.Nil(t, resp.Code.Matched)
	assert.Equal(t, core.KindNoChallengeCode, resp.Code.Error.Kind)
}

func TestBuildModalityResponse(t *testing.T) {
	sv := sampleSession()
	resp := BuildModalityResponse(sv.Video, sv.VideoVerdict)
	require.NotNil(t, resp.Confidence)
	assert.Equal(t, 0.1235, *resp.Confidence)
	assert.Equal(t, "LOW", resp.RiskLevel)
	assert.NotNil(t, resp.PolicyFlags)

	failed := BuildModalityResponse(
		core.FailedSignal(core.ModalityAudio, errors.New("boom")),
		decision.Verdict{Modality: core.ModalityAudio, Status: core.StatusFailed},
	)
	assert.Nil(t, failed.Confidence)
	assert.Equal(t, core.StatusFailed, failed.SignalStatus)
}

func TestEvent_IsImmutableSnapshot(t *testing.T) {
	sv := sampleSession()
	ev := NewSessionEvent(sv)

	*sv.Video.Score = 0.99
	sv.AudioVerdict.PolicyFlags[0] = decision.FlagDegradedSignal
	sv.Outcome = fusion.OutcomePass

	data := ev.Data.(LiveResponse)
	assert.Equal(t, 0.1235, *data.Video.Score)
	assert.Equal(t, []decision.PolicyFlag{decision.FlagHumanReview}, data.Audio.PolicyFlags)
	assert.Equal(t, "FAIL", ev.Outcome())
	assert.Equal(t, []string{"requires human review"}, ev.PolicyFlags())
}

func TestEvent_SSEFormat(t *testing.T) {
	ev := NewSessionEvent(sampleSession())
	out, err := ev.SSEFormat()
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^event: verification\.session\.decided\ndata: \{.*\}\nid: `+ev.ID+`\n\n$`), string(out))
}

func TestEmitter_DeliversToAllSinksWithExplanation(t *testing.T) {
	ex, err := explain.New()
	require.NoError(t, err)
	a, b := &recordingSink{}, &recordingSink{}
	reg := prometheus.NewRegistry()

	em := New(Config{Workers: 2, QueueSize: 10}, ex, a, b)
	em.SetMetrics(NewMetrics(reg))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = em.Run(ctx)
		close(done)
	}()

	assert.True(t, em.EmitSession(sampleSession()))
	cancel()
	<-done

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	data := a.events[0].Data.(LiveResponse)
	assert.Contains(t, data.Explanation, "Session sess-7: FAIL (deepfake_detected).")

	assert.False(t, em.EmitSession(sampleSession()), "closed emitter drops")

	assert.Equal(t, 1.0, counterValue(t, reg, "accepted"))
	assert.Equal(t, 2.0, counterValue(t, reg, "delivered"))
	assert.Equal(t, 1.0, counterValue(t, reg, "dropped"))
}

// countingExplainer records how often the worker renders.
type countingExplainer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingExplainer) Verdict(decision.Verdict) (string, error) { return c.render() }

func (c *countingExplainer) Session(*fusion.SessionVerdict) (string, error) { return c.render() }

func (c *countingExplainer) render() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return "rendered by worker", nil
}

func (c *countingExplainer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestEmitter_KeepsCallerExplanation(t *testing.T) {
	ex := &countingExplainer{}
	sink := &recordingSink{}
	em := New(Config{Workers: 1, QueueSize: 4}, ex, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = em.Run(ctx)
		close(done)
	}()

	assert.True(t, em.Emit(NewSessionEvent(sampleSession()).WithExplanation("rendered by handler")))
	assert.True(t, em.EmitSession(sampleSession()))
	cancel()
	<-done

	require.Equal(t, 2, sink.count())
	assert.Equal(t, 1, ex.count(), "only the unexplained event is rendered")

	texts := []string{
		sink.events[0].Data.(LiveResponse).Explanation,
		sink.events[1].Data.(LiveResponse).Explanation,
	}
	assert.ElementsMatch(t, []string{"rendered by handler", "rendered by worker"}, texts)
}

func counterValue(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "liveverify_emitter_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEmitter_NeverBlocksWhenFull(t *testing.T) {
	em := New(Config{Workers: 1, QueueSize: 1}, nil, &recordingSink{})

	start := time.Now()
	accepted := 0
	for i := 0; i < 20; i++ {
		if em.EmitSession(sampleSession()) {
			accepted++
		}
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, accepted, "queue of one with no workers running accepts one event")
	em.Close()
}

func TestEmitter_SinkFailureDoesNotStopOthers(t *testing.T) {
	bad := &recordingSink{err: errors.New("disk full")}
	good := &recordingSink{}
	em := New(Config{Workers: 1, QueueSize: 4}, nil, bad, good)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = em.Run(ctx)
		close(done)
	}()
	em.Emit(NewModalityEvent("r", "s", sampleSession().Video, sampleSession().VideoVerdict))
	cancel()
	<-done

	assert.Equal(t, 1, bad.count())
	assert.Equal(t, 1, good.count())
	assert.Equal(t, EventModalityDecided, good.events[0].Type)
	assert.Equal(t, "/api/v1/analyze/video", good.events[0].Source)
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe()
	sessions := bus.Subscribe(EventSessionDecided)
	assert.Equal(t, 2, bus.SubscriberCount())

	require.NoError(t, NewBusSink(bus).Deliver(context.Background(), NewSessionEvent(sampleSession())))
	bus.Publish(NewModalityEvent("r", "s", sampleSession().Audio, sampleSession().AudioVerdict))

	assert.Len(t, all, 2)
	assert.Len(t, sessions, 1)

	bus.Unsubscribe(sessions)
	assert.Equal(t, 1, bus.SubscriberCount())
	_, open := <-sessions
	assert.True(t, open, "buffered event still readable")
	_, open = <-sessions
	assert.False(t, open)
}

type fakeStream struct {
	stream string
	maxLen int64
	fields map[string]any
	err    error
}

func (f *fakeStream) XAdd(_ context.Context, stream string, maxLen int64, fields map[string]any) (string, error) {
	f.stream, f.maxLen, f.fields = stream, maxLen, fields
	return "1700000000000-0", f.err
}

func TestRedisStreamSink(t *testing.T) {
	fs := &fakeStream{}
	sink := NewRedisStreamSink(fs, "", 5000)

	require.NoError(t, sink.Deliver(context.Background(), NewSessionEvent(sampleSession())))
	assert.Equal(t, "verification:audit", fs.stream)
	assert.Equal(t, int64(5000), fs.maxLen)
	assert.Equal(t, "FAIL", fs.fields["outcome"])
	assert.Equal(t, "deepfake_detected", fs.fields["failure_reason"])
	assert.Equal(t, "sess-7", fs.fields["session_id"])
	assert.Contains(t, fs.fields["payload"], `"specversion":"1.0"`)

	fs.err = errors.New("READONLY")
	assert.ErrorContains(t, sink.Deliver(context.Background(), NewSessionEvent(sampleSession())), "READONLY")
}

func TestPostgresSink(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db)
	ev := NewSessionEvent(sampleSession())

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS verification_audit")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_audit")).
		WithArgs(ev.ID, "verification.session.decided", "req-7", "sess-7", "FAIL", "deepfake_detected",
			sqlmock.AnyArg(), sqlmock.AnyArg(), ev.Time).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := context.Background()
	require.NoError(t, sink.EnsureSchema(ctx))
	require.NoError(t, sink.Deliver(ctx, ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_audit")).
		WillReturnError(errors.New("connection reset"))

	err = NewPostgresSink(db).Deliver(context.Background(), NewSessionEvent(sampleSession()))
	assert.ErrorContains(t, err, "connection reset")
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"a":1}`)
	sig := "sha256=" + SignPayload(payload, "s3cret")

	assert.True(t, VerifySignature(payload, "s3cret", sig))
	assert.False(t, VerifySignature(payload, "other", sig))
	assert.False(t, VerifySignature(payload, "s3cret", "sha256="))
	assert.False(t, VerifySignature(payload, "s3cret", "md5=abc"))
}

func TestWebhookSink_SignsAndRetries5xx(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, VerifySignature(body, "s3cret", r.Header.Get("X-Verify-Signature")))
		assert.Equal(t, "verification.session.decided", r.Header.Get("X-Verify-Event-Type"))

		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "s3cret")
	sink.backoff = time.Millisecond

	require.NoError(t, sink.Deliver(context.Background(), NewSessionEvent(sampleSession())))
	assert.Equal(t, 3, calls)
}

func TestWebhookSink_NoRetryOn4xx(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	sink.backoff = time.Millisecond

	err := sink.Deliver(context.Background(), NewSessionEvent(sampleSession()))
	assert.ErrorContains(t, err, "401")
	assert.Equal(t, 1, calls)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Deliver(context.Background(), NewSessionEvent(sampleSession())))
}
