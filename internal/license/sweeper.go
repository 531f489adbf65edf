package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/gangboard/internal/metrics"
	"github.com/mbd888/gangboard/internal/tenant"
	"github.com/mbd888/gangboard/internal/traces"
)

// DefaultGracePeriod is how long a lapsed subscription keeps its tier.
const DefaultGracePeriod = 72 * time.Hour

// ErrSweepInProgress is returned when another sweep in this process has
// not finished yet.
var ErrSweepInProgress = errors.New("license: expiry sweep already running")

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Downgraded []string      `json:"downgraded"`
	Cutoff     time.Time     `json:"cutoff"`
	Duration   time.Duration `json:"durationNs"`
}

// Sweeper downgrades gangs whose paid period ended more than the grace
// period ago. A sweep is idempotent: downgraded gangs are FREE and no
// longer match.
type Sweeper struct {
	tenants tenant.Store
	grace   time.Duration
	logger  *slog.Logger
	events  EventEmitter
	now     func() time.Time
	lastRun atomic.Int64 // unix nanos of the last successful sweep

	// running admits one sweep at a time, whether timed or manual.
	running sync.Mutex
}

// NewSweeper creates an expiry sweeper.
func NewSweeper(tenants tenant.Store, grace time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{tenants: tenants, grace: grace, logger: logger, now: time.Now}
}

// WithEvents adds a real-time event emitter.
func (s *Sweeper) WithEvents(e EventEmitter) *Sweeper {
	s.events = e
	return s
}

// LastRun returns when the last successful sweep finished.
func (s *Sweeper) LastRun() time.Time {
	n := s.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Sweep runs one pass. It returns ErrSweepInProgress without touching the
// store when a sweep is already running.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	ctx, span := traces.StartSpan(ctx, "license.Sweep")
	defer span.End()

	start := time.Now()
	now := s.now()
	cutoff := now.Add(-s.grace)

	downs, err := s.tenants.DowngradeExpired(ctx, cutoff, now)
	elapsed := time.Since(start)
	metrics.ExpirySweepDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.ExpirySweepsTotal.WithLabelValues("error").Inc()
		traces.Fail(span, err)
		return nil, fmt.Errorf("expiry sweep: %w", err)
	}
	metrics.ExpirySweepsTotal.WithLabelValues("ok").Inc()
	metrics.ExpiryDowngradesTotal.Add(float64(len(downs)))
	span.SetAttributes(traces.Downgraded(len(downs)))
	s.lastRun.Store(time.Now().UnixNano())

	ids := make([]string, 0, len(downs))
	for _, d := range downs {
		ids = append(ids, d.ID)
		s.logger.Info("subscription lapsed past grace, downgraded to FREE", "gang_id", d.ID, "from", d.From)
		if s.events != nil {
			s.events.EmitTierChanged(d.ID, d.From, tenant.TierFree, nil, "expiry_sweep")
		}
	}
	return &SweepResult{Downgraded: ids, Cutoff: cutoff, Duration: elapsed}, nil
}
