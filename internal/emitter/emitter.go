// Package emitter hands decided verdicts to downstream audit consumers
// without ever blocking the request path.
package emitter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
)

// Sink receives every emitted event. Deliver may block; it runs on an
// emitter worker, never on the request goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev *Event) error
}

// Explainer renders operator text for an event payload.
type Explainer interface {
	Verdict(v decision.Verdict) (string, error)
	Session(sv *fusion.SessionVerdict) (string, error)
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	QueueSize    int
	SinkTimeout  time.Duration
	DrainTimeout time.Duration
}

// DefaultConfig matches the audit section defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1000, SinkTimeout: 10 * time.Second, DrainTimeout: 5 * time.Second}
}

// Emitter fans events out to sinks from a bounded queue.
type Emitter struct {
	cfg       Config
	sinks     []Sink
	explainer Explainer
	metrics   *Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan *Event
	wg     sync.WaitGroup
}

// New creates an emitter. Workers start with Run.
func New(cfg Config, explainer Explainer, sinks ...Sink) *Emitter {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Emitter{
		cfg:       cfg,
		sinks:     sinks,
		explainer: explainer,
		queue:     make(chan *Event, cfg.QueueSize),
	}
}

// SetMetrics attaches Prometheus collectors.
func (e *Emitter) SetMetrics(m *Metrics) { e.metrics = m }

// EmitSession snapshots sv and queues it. It never blocks; the event is
// dropped (and counted) when the queue is full or the emitter is closed.
func (e *Emitter) EmitSession(sv *fusion.SessionVerdict) bool {
	return e.Emit(NewSessionEvent(sv))
}

// Emit queues an already built event.
func (e *Emitter) Emit(ev *Event) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.metrics.observe(resultDropped)
		slog.Warn("[Emitter] Closed, dropping event", "event_id", ev.ID, "type", ev.Type)
		return false
	}

	select {
	case e.queue <- ev:
		e.metrics.observe(resultAccepted)
		return true
	default:
		e.metrics.observe(resultDropped)
		slog.Warn("[Emitter] Queue full, dropping event", "event_id", ev.ID, "request_id", ev.RequestID())
		return false
	}
}

// Run starts the workers and blocks until ctx is done, then stops intake
// and drains what is already queued.
func (e *Emitter) Run(ctx context.Context) error {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	slog.Info("[Emitter] Started", "workers", e.cfg.Workers, "sinks", len(e.sinks))

	<-ctx.Done()
	e.Close()
	return nil
}

// Close stops intake and waits for queued events to be delivered, up to
// the drain timeout.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("[Emitter] Drained")
	case <-time.After(e.cfg.DrainTimeout):
		slog.Warn("[Emitter] Drain timed out", "pending", len(e.queue))
	}
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.process(ev)
	}
}

func (e *Emitter) process(ev *Event) {
	e.explain(ev)

	for _, sink := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SinkTimeout)
		err := sink.Deliver(ctx, ev)
		cancel()

		if err != nil {
			e.metrics.observe(resultFailed)
			slog.Error("[Emitter] Sink delivery failed",
				"sink", sink.Name(),
				"event_id", ev.ID,
				"request_id", ev.RequestID(),
				"error", err,
			)
			continue
		}
		e.metrics.observe(resultDelivered)
	}
}

func (e *Emitter) explain(ev *Event) {
	if e.explainer == nil || ev.explained {
		return
	}

	var (
		text string
		err  error
	)
	if ev.session != nil {
		text, err = e.explainer.Session(ev.session)
	} else {
		text, err = e.explainer.Verdict(ev.verdict)
	}
	if err != nil {
		slog.Warn("[Emitter] Explanation failed", "event_id", ev.ID, "error", err)
		return
	}
	ev.setExplanation(text)
}
