package fusion

import (
	"fmt"
	"time"
)

// Phase is the lifecycle stage of one verification request.
type Phase int

const (
	PhasePending Phase = iota
	PhaseCollecting
	PhaseFusing
	PhaseDecided
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "PENDING"
	case PhaseCollecting:
		return "COLLECTING"
	case PhaseFusing:
		return "FUSING"
	case PhaseDecided:
		return "DECIDED"
	default:
		return "UNKNOWN"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PhaseTransition records one step of the request lifecycle.
type PhaseTransition struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// phaseTracker enforces PENDING -> COLLECTING -> FUSING -> DECIDED. It is
// owned by the request goroutine and is not safe for concurrent use.
type phaseTracker struct {
	current Phase
	trail   []PhaseTransition
	now     func() time.Time
}

func newPhaseTracker(now func() time.Time) *phaseTracker {
	return &phaseTracker{current: PhasePending, now: now, trail: make([]PhaseTransition, 0, 3)}
}

// advance moves to the next phase. Skipping or repeating a phase is an error.
func (p *phaseTracker) advance(to Phase) error {
	if to != p.current+1 || to > PhaseDecided {
		return fmt.Errorf("invalid phase transition: %s -> %s", p.current, to)
	}
	p.trail = append(p.trail, PhaseTransition{From: p.current, To: to, At: p.now()})
	p.current = to
	return nil
}

func (p *phaseTracker) transitions() []PhaseTransition {
	out := make([]PhaseTransition, len(p.trail))
	copy(out, p.trail)
	return out
}
