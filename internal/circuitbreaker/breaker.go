// Package circuitbreaker stops calling a failing target for a while and
// then lets a single probe through.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/mbd888/gangboard/internal/metrics"
)

// State is the circuit state of one key.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// maxBackoffShift caps the cool-down at 16x the base.
const maxBackoffShift = 4

type circuit struct {
	state    State
	failures int
	// trips counts consecutive openings without a successful probe.
	trips     int
	openUntil time.Time
}

// Snapshot describes one key for operators.
type Snapshot struct {
	State     State
	Failures  int
	OpenUntil time.Time
}

// Breaker keeps one circuit per key. A circuit opens after threshold
// consecutive failures. Once the cool-down passes, one probe may run; its
// failure reopens the circuit for twice as long as the last time.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a breaker. Non-positive arguments mean 5 failures and 30s.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
}

// Allow reports whether a call to key may go ahead.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Before(c.openUntil) {
			return false
		}
		b.move(c, StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	}
	return true
}

// RecordSuccess closes the circuit and clears its history.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return
	}
	b.move(c, StateClosed)
	c.failures = 0
	c.trips = 0
}

// RecordFailure counts a failure against key.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		shift := min(c.trips, maxBackoffShift)
		c.openUntil = b.now().Add(b.cooldown << shift)
		c.trips++
		b.move(c, StateOpen)
	}
}

// State returns the state of key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	return b.Snapshot(key).State
}

// Snapshot returns the circuit details for key.
func (b *Breaker) Snapshot(key string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuits[key]
	if c == nil {
		return Snapshot{State: StateClosed}
	}
	s := Snapshot{State: c.state, Failures: c.failures}
	if c.state == StateOpen {
		s.OpenUntil = c.openUntil
	}
	return s
}

// Forget drops key, e.g. when its webhook is deleted.
func (b *Breaker) Forget(key string) {
	b.mu.Lock()
	delete(b.circuits, key)
	b.mu.Unlock()
}

// Callers hold b.mu.
func (b *Breaker) move(c *circuit, to State) {
	if c.state == to {
		return
	}
	metrics.CircuitTransitionsTotal.WithLabelValues(c.state.String(), to.String()).Inc()
	c.state = to
}
