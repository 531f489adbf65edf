package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default schedule of the expiry sweep.
const (
	DefaultSweepInterval = 6 * time.Hour
	DefaultSweepDelay    = 10 * time.Second
)

// Timer runs the expiry sweep shortly after start and then every interval.
// The next run is armed only after the previous one returns, so runs in
// one process never overlap.
type Timer struct {
	sweeper  *Sweeper
	delay    time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	runs     atomic.Int64
}

// NewTimer creates a sweep timer.
func NewTimer(sweeper *Sweeper, delay, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		sweeper:  sweeper,
		delay:    delay,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Runs returns how many sweeps the timer has attempted.
func (t *Timer) Runs() int64 {
	return t.runs.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	timer := time.NewTimer(t.delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-timer.C:
			t.safeRun(ctx)
			timer.Reset(t.interval)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	t.runs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiry sweep", "panic", fmt.Sprint(r))
		}
	}()

	res, err := t.sweeper.Sweep(ctx)
	if errors.Is(err, ErrSweepInProgress) {
		t.logger.Info("expiry sweep skipped, a manual sweep is running")
		return
	}
	if err != nil {
		t.logger.Warn("expiry sweep failed, retrying next interval", "error", err)
		return
	}
	if len(res.Downgraded) > 0 {
		t.logger.Info("expiry sweep downgraded gangs", "count", len(res.Downgraded))
	}
}
