// Package circuitbreaker guards calls to upstream analysis pipelines so a
// dead collaborator fails fast instead of consuming the branch timeout of
// every request.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, calls reach the pipeline
	StateOpen                  // Pipeline considered down, calls rejected
	StateHalfOpen              // Probing whether the pipeline recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown circuit state %q", b)
}

var (
	ErrCircuitOpen   = errors.New("circuit breaker is open")
	ErrProbeInFlight = errors.New("half-open probe budget exhausted")
)

// excluded marks an error the pipeline is not to blame for.
type excluded struct{ err error }

func (e excluded) Error() string { return e.err.Error() }
func (e excluded) Unwrap() error { return e.err }

// Exclude wraps err so that it passes through the breaker without counting
// as a pipeline failure. Use it for rejections caused by the request itself,
// such as a 4xx for a media handle that does not exist.
func Exclude(err error) error {
	if err == nil {
		return nil
	}
	return excluded{err: err}
}

// IsExcluded reports whether err was wrapped with Exclude.
func IsExcluded(err error) bool {
	var e excluded
	return errors.As(err, &e)
}

// DefaultIsFailure counts every error except caller cancellation and
// excluded errors. A call that runs into its own deadline does count: a
// pipeline that keeps timing out is down.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !IsExcluded(err)
}

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the guarded pipeline
	Name string

	// FailureThreshold is the run of consecutive failures that opens the circuit
	FailureThreshold uint32

	// MaxRequests is the number of probes allowed in half-open state, and
	// the run of probe successes needed to close again
	MaxRequests uint32

	// Interval clears closed-state counts periodically; zero never clears
	Interval time.Duration

	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration

	// IsFailure classifies a call's error; nil means DefaultIsFailure
	IsFailure func(err error) bool

	// OnStateChange is called whenever the circuit state changes
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig trips after three consecutive pipeline failures.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:             name,
		FailureThreshold: 3,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		OnStateChange: func(name string, from State, to State) {
			slog.Warn("[CircuitBreaker] State change", "pipeline", name, "from", from.String(), "to", to.String())
		},
	}
}

// Counts are the tallies of the current window. A window ends whenever the
// state changes or the closed-state interval elapses.
type Counts struct {
	Requests             uint32 `json:"requests"`
	Successes            uint32 `json:"successes"`
	Failures             uint32 `json:"failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	Counts        Counts     `json:"counts"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

// CircuitBreaker guards one pipeline.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	state         State
	window        uint64 // bumped on every reset so late results are dropped
	counts        Counts
	windowEnds    time.Time
	openedAt      time.Time
	lastErr       string
	lastFailureAt time.Time
}

// New creates a breaker. A nil cfg uses DefaultConfig("default").
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	c := *cfg
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 1
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}

	cb := &CircuitBreaker{cfg: c, now: time.Now}
	cb.resetWindow(cb.now())
	return cb
}

// Name returns the guarded pipeline name
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.state
}

// Counts returns the tallies of the current window
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance(cb.now())
	return cb.counts
}

// Snapshot returns the state, counts and last failure.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(cb.now())
	s := Snapshot{Name: cb.cfg.Name, State: cb.state, Counts: cb.counts, LastError: cb.lastErr}
	if cb.state != StateClosed {
		opened := cb.openedAt
		s.OpenedAt = &opened
	}
	if cb.state == StateOpen {
		retry := cb.windowEnds
		s.RetryAt = &retry
	}
	if !cb.lastFailureAt.IsZero() {
		at := cb.lastFailureAt
		s.LastFailureAt = &at
	}
	return s
}

// Do runs fn if the breaker admits it and records the outcome. Rejections
// are wrapped with the pipeline name and match ErrCircuitOpen or
// ErrProbeInFlight.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	window, err := cb.admit()
	if err != nil {
		return fmt.Errorf("%s: %w", cb.cfg.Name, err)
	}

	settled := false
	defer func() {
		if !settled {
			cb.settle(window, outcomeFailure, "panic")
		}
	}()

	err = fn(ctx)
	settled = true

	switch {
	case err == nil:
		cb.settle(window, outcomeSuccess, "")
	case cb.cfg.IsFailure(err):
		cb.settle(window, outcomeFailure, err.Error())
	default:
		cb.settle(window, outcomeIgnored, "")
	}
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance(cb.now())
	switch {
	case cb.state == StateOpen:
		return 0, ErrCircuitOpen
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests:
		return 0, ErrProbeInFlight
	}
	cb.counts.Requests++
	return cb.window, nil
}

// settle records a result admitted in window. Results from an earlier
// window are dropped.
func (cb *CircuitBreaker) settle(window uint64, o outcome, errMsg string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.advance(now)
	if window != cb.window {
		return
	}

	switch o {
	case outcomeIgnored:
		// Give the slot back so a caller cancellation does not use up a
		// half-open probe.
		if cb.counts.Requests > 0 {
			cb.counts.Requests--
		}

	case outcomeSuccess:
		cb.counts.Successes++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.transition(StateClosed, now)
		}

	case outcomeFailure:
		cb.counts.Failures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		cb.lastErr = errMsg
		cb.lastFailureAt = now
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	}
}

// advance applies time-driven changes: open circuits start probing once the
// timeout elapses, closed windows roll over after Interval.
func (cb *CircuitBreaker) advance(now time.Time) {
	if cb.windowEnds.IsZero() || now.Before(cb.windowEnds) {
		return
	}
	switch cb.state {
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	case StateClosed:
		cb.resetWindow(now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen && from == StateClosed {
		cb.openedAt = now
	}
	cb.resetWindow(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

func (cb *CircuitBreaker) resetWindow(now time.Time) {
	cb.window++
	cb.counts = Counts{}

	switch cb.state {
	case StateClosed:
		cb.windowEnds = time.Time{}
		if cb.cfg.Interval > 0 {
			cb.windowEnds = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.windowEnds = now.Add(cb.cfg.Timeout)
	case StateHalfOpen:
		cb.windowEnds = time.Time{}
	}
}
