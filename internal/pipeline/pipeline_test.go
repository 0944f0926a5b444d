package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
)

var ref = core.MediaRef{SessionID: "sess-1", URI: "s3://bucket/sess-1/video.mp4"}

func TestHTTPClient_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sess-1", req.SessionID)
		assert.Equal(t, "VIDEO", req.Modality)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","value":0.4}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(core.ModalityVideo, srv.URL, time.Second, nil)
	report, err := c.Score(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusOK, report.Status)
	require.NotNil(t, report.Value)
	// Decoded as float64 so a boundary score compares exactly.
	assert.Equal(t, 0.4, *report.Value)
}

func TestHTTPClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","transcript":"a b one two c d"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(core.ModalityCode, srv.URL, time.Second, nil)
	report, err := c.Transcribe(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "a b one two c d", report.Transcript)
}

func TestHTTPClient_UpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	_, err := NewHTTPClient(core.ModalityAudio, srv.URL+"/500", time.Second, nil).Score(context.Background(), ref)
	assert.ErrorContains(t, err, "HTTP 500")

	_, err = NewHTTPClient(core.ModalityAudio, srv.URL+"/bad", time.Second, nil).Score(context.Background(), ref)
	assert.ErrorContains(t, err, "decode AUDIO pipeline response")
}

func TestHTTPClient_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewHTTPClient(core.ModalityVideo, srv.URL, 0, nil).Score(ctx, ref)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPClient_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig("video")
	cfg.OnStateChange = nil
	c := NewHTTPClient(core.ModalityVideo, srv.URL, time.Second, circuitbreaker.New(cfg))

	for i := 0; i < 3; i++ {
		_, err := c.Score(context.Background(), ref)
		assert.Error(t, err)
	}
	_, err := c.Score(context.Background(), ref)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_ClientErrorsDoNotTrip(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig("video")
	cfg.OnStateChange = nil
	cb := circuitbreaker.New(cfg)
	c := NewHTTPClient(core.ModalityVideo, srv.URL, time.Second, cb)

	for i := 0; i < 5; i++ {
		_, err := c.Score(context.Background(), ref)
		assert.ErrorContains(t, err, "HTTP 404")
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestStaticScoreSource(t *testing.T) {
	s := &StaticScoreSource{Report: OK(0.2)}
	report, err := s.Score(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0.2, *report.Value)

	slow := &StaticScoreSource{Report: OK(0.2), Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Score(ctx, ref)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	report, err = Unconfigured().Score(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, report.Status)
	assert.Nil(t, report.Value)

	tr, err := UnconfiguredTranscriber().Transcribe(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, tr.Status)
}
