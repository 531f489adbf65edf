// Package health runs the subsystem probes behind GET /health.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State summarises a report.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Check probes one subsystem. A nil error means healthy.
type Check func(ctx context.Context) error

// Status is the outcome of one probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Report is the result of running every registered probe.
type Report struct {
	State  State    `json:"state"`
	Checks []Status `json:"checks"`
}

type probe struct {
	name     string
	check    Check
	critical bool
}

// Registry holds probes and runs them concurrently, each under its own
// timeout. A failing critical probe makes the report unhealthy; any other
// failure only degrades it.
type Registry struct {
	timeout time.Duration

	mu     sync.RWMutex
	probes []probe
}

// NewRegistry creates a registry. A non-positive timeout defaults to 2s.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Registry{timeout: timeout}
}

// Register adds a probe. Probes report in registration order.
func (r *Registry) Register(name string, check Check, critical bool) {
	r.mu.Lock()
	r.probes = append(r.probes, probe{name: name, check: check, critical: critical})
	r.mu.Unlock()
}

// Run executes every probe and aggregates the results.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	probes := append([]probe(nil), r.probes...)
	r.mu.RUnlock()

	statuses := make([]Status, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			statuses[i] = r.runOne(ctx, p)
		}(i, p)
	}
	wg.Wait()

	state := StateHealthy
	for _, st := range statuses {
		if st.Healthy {
			continue
		}
		if st.Critical {
			state = StateUnhealthy
			break
		}
		state = StateDegraded
	}
	return Report{State: state, Checks: statuses}
}

func (r *Registry) runOne(ctx context.Context, p probe) Status {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("probe panicked: %v", rec)
			}
		}()
		done <- p.check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	st := Status{Name: p.name, Healthy: err == nil, Critical: p.critical, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		st.Detail = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			st.Detail = "timed out after " + r.timeout.String()
		}
	}
	return st
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseCheck fails when a ping fails.
func DatabaseCheck(db Pinger) Check {
	return db.PingContext
}

// FreshnessCheck fails when a background job's last completed run is older
// than maxAge. A job that has not run yet is measured from startedAt.
func FreshnessCheck(lastRun func() time.Time, startedAt time.Time, maxAge time.Duration, now func() time.Time) Check {
	return func(context.Context) error {
		ref := lastRun()
		if ref.IsZero() {
			ref = startedAt
		}
		if age := now().Sub(ref); age > maxAge {
			return fmt.Errorf("last run %s ago", age.Truncate(time.Second))
		}
		return nil
	}
}
