package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream 503")

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cfg := DefaultConfig("video")
	cfg.MaxRequests = 1
	cfg.OnStateChange = nil
	cb := New(cfg)
	cb.now = clock.now
	cb.resetWindow(clock.now())
	return cb
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Do(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Do(ctx, ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "video")
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Do(ctx, fail)
	}
	clock.advance(31 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Do(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Do(ctx, fail)
	}
	clock.advance(31 * time.Second)
	_ = cb.Do(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)

	cancelled := func(context.Context) error { return context.Canceled }
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Do(context.Background(), cancelled), context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Counts().Failures)
	assert.Zero(t, cb.Counts().Requests)

	timedOut := func(context.Context) error { return context.DeadlineExceeded }
	for i := 0; i < 3; i++ {
		_ = cb.Do(context.Background(), timedOut)
	}
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_ExcludedErrorsPassThrough(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)

	notFound := Exclude(errors.New("media handle not found"))
	for i := 0; i < 5; i++ {
		err := cb.Do(context.Background(), func(context.Context) error { return notFound })
		assert.True(t, IsExcluded(err))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Nil(t, Exclude(nil))
}

func TestBreaker_CustomClassifier(t *testing.T) {
	cfg := DefaultConfig("audio")
	cfg.FailureThreshold = 1
	cfg.OnStateChange = nil
	cfg.IsFailure = func(err error) bool { return errors.Is(err, errUpstream) }
	cb := New(cfg)

	_ = cb.Do(context.Background(), func(context.Context) error { return errors.New("bad payload") })
	assert.Equal(t, StateClosed, cb.State())

	_ = cb.Do(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_Snapshot(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	s := cb.Snapshot()
	assert.Equal(t, StateClosed, s.State)
	assert.Nil(t, s.OpenedAt)
	assert.Nil(t, s.LastFailureAt)

	for i := 0; i < 3; i++ {
		_ = cb.Do(ctx, fail)
	}
	s = cb.Snapshot()
	assert.Equal(t, StateOpen, s.State)
	assert.Equal(t, "upstream 503", s.LastError)
	require.NotNil(t, s.OpenedAt)
	require.NotNil(t, s.RetryAt)
	assert.Equal(t, clock.t.Add(30*time.Second), *s.RetryAt)

	clock.advance(31 * time.Second)
	s = cb.Snapshot()
	assert.Equal(t, StateHalfOpen, s.State)
	assert.Nil(t, s.RetryAt)
	assert.NotNil(t, s.OpenedAt)
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Do(ctx, fail)
	}
	clock.advance(31 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Do(ctx, ok), ErrProbeInFlight)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := newTestBreaker(clock)

	assert.Panics(t, func() {
		_ = cb.Do(context.Background(), func(context.Context) error { panic("decoder bug") })
	})
	assert.Equal(t, uint32(1), cb.Counts().Failures)
	assert.Equal(t, "panic", cb.Snapshot().LastError)
}

func TestManager_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewManager(nil, reg)

	video := m.Get("video")
	assert.Same(t, video, m.Get("video"))
	m.Get("audio")

	hs := m.Health()
	assert.True(t, hs.Healthy)
	require.Len(t, hs.Breakers, 2)
	assert.Equal(t, "audio", hs.Breakers[0].Name)

	for i := 0; i < 3; i++ {
		_ = video.Do(context.Background(), fail)
	}
	hs = m.Health()
	assert.False(t, hs.Healthy)
	assert.Equal(t, []string{"video"}, hs.Open)
	assert.Equal(t, float64(StateOpen), gaugeValue(t, reg, "liveverify_breaker_state", "video"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name, pipeline string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "pipeline" && lp.GetValue() == pipeline {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge %s{pipeline=%q} not found", name, pipeline)
	return 0
}
