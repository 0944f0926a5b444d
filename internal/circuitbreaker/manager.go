package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================================
// CIRCUIT BREAKER MANAGER
// ============================================================================

// Manager owns one breaker per pipeline name.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config
	state    *prometheus.GaugeVec
}

// NewManager creates a manager whose breakers share defaultCfg. When reg is
// non-nil every breaker publishes its state as liveverify_breaker_state.
func NewManager(defaultCfg *Config, reg prometheus.Registerer) *Manager {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig("")
	}
	m := &Manager{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      *defaultCfg,
	}
	if reg != nil {
		m.state = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "liveverify_breaker_state",
			Help: "Pipeline circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"pipeline"})
	}
	return m
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cfg := m.cfg
	cfg.Name = name
	notify := cfg.OnStateChange
	cfg.OnStateChange = func(n string, from, to State) {
		if m.state != nil {
			m.state.WithLabelValues(n).Set(float64(to))
		}
		if notify != nil {
			notify(n, from, to)
		}
	}
	cb = New(&cfg)
	m.breakers[name] = cb
	if m.state != nil {
		m.state.WithLabelValues(name).Set(float64(StateClosed))
	}
	return cb
}

// Snapshots returns every breaker's snapshot, ordered by name.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.breakers))
	for _, cb := range m.breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthStatus summarises the breakers for the health endpoint.
type HealthStatus struct {
	Healthy   bool       `json:"healthy"`
	Open      []string   `json:"open_circuits,omitempty"`
	Breakers  []Snapshot `json:"breakers"`
	CheckedAt time.Time  `json:"checked_at"`
}

// Health reports unhealthy while any breaker is open. Half-open counts as
// healthy since the pipeline is already being probed.
func (m *Manager) Health() HealthStatus {
	snaps := m.Snapshots()
	hs := HealthStatus{Healthy: true, Breakers: snaps, CheckedAt: time.Now().UTC()}
	for _, s := range snaps {
		if s.State == StateOpen {
			hs.Healthy = false
			hs.Open = append(hs.Open, s.Name)
		}
	}
	return hs
}
