// Package ratelimit implements client-side admission control for the FRED
// API quota. The upstream enforces a hard request cap per wall-clock window
// and answers 429 beyond it, resetting the whole quota at window boundaries
// rather than per-request. The limiter mirrors that: a released permit does
// not become available again until the epoch after the one it was used in.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bgrams/fredio/pkg/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Published FRED API quota: 120 requests per 60-second window.
const (
	DefaultCapacity = 120
	DefaultPeriod   = 60 * time.Second
)

// Prometheus metrics for rate limit gating.
var (
	fredPermitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fred_rate_limit_permits_in_use",
		Help: "Permits currently held against the active rate limit window",
	})

	fredAcquireWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fred_rate_limit_acquire_wait_seconds",
		Help:    "Time spent waiting for a rate limit permit",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})

	fredPermitsReplenished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fred_rate_limit_permits_replenished_total",
		Help: "Total permits returned to the pool by the replenishment loop",
	})
)

// pendingRelease records one Release call awaiting the next epoch.
type pendingRelease struct {
	at    time.Time
	epoch int64
}

// Limiter is a counting gate of fixed capacity. Acquire blocks while all
// permits are outstanding; Release defers the permit return to the
// background replenishment loop, which frees it once the recording epoch
// has passed.
//
// The zero value is not usable; construct with NewLimiter and call Start
// before acquiring.
type Limiter struct {
	capacity int
	period   time.Duration
	clk      clock.Clock
	logger   zerolog.Logger

	mu      sync.Mutex
	free    int
	pending []pendingRelease
	notify  chan struct{}

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewLimiter creates a stopped limiter with all permits free.
func NewLimiter(capacity int, period time.Duration, clk clock.Clock, logger zerolog.Logger) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	if clk == nil {
		clk = clock.NewMonotonicClock()
	}

	return &Limiter{
		capacity: capacity,
		period:   period,
		clk:      clk,
		logger:   logger.With().Str("component", "rate-limiter").Logger(),
		free:     capacity,
		notify:   make(chan struct{}),
	}
}

// Acquire blocks until a free permit exists or ctx is done. It never
// returns early: a successful return means one permit has been claimed.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	for {
		l.mu.Lock()
		if l.free > 0 {
			l.free--
			l.mu.Unlock()

			fredPermitsInUse.Inc()
			fredAcquireWaitSeconds.Observe(time.Since(start).Seconds())
			return nil
		}
		wait := l.notify
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
			// Permits were replenished; contend again.
		}
	}
}

// Release schedules the permit claimed by a prior Acquire for return.
// The permit is not freed immediately: the replenishment loop returns it
// once the current epoch is strictly greater than the epoch recorded here,
// reproducing the upstream's whole-window quota reset.
//
// Call exactly once per successful Acquire.
func (l *Limiter) Release() {
	rel := pendingRelease{
		at:    l.clk.Now(),
		epoch: clock.Epoch(l.clk, l.period),
	}

	l.mu.Lock()
	l.pending = append(l.pending, rel)
	l.mu.Unlock()

	fredPermitsInUse.Dec()
	l.logger.Debug().
		Int64("epoch", rel.epoch).
		Msg("Permit release scheduled")
}

// Start launches the background replenishment loop. Calling Start on a
// running limiter is a no-op.
func (l *Limiter) Start() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})

	go l.run(ctx)

	l.logger.Debug().
		Int("capacity", l.capacity).
		Dur("period", l.period).
		Msg("Replenishment loop started")
}

// Stop cancels the replenishment loop and waits for it to exit.
// Outstanding permits are left exactly as they were: nothing is force
// released. Idempotent.
func (l *Limiter) Stop() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.cancel == nil {
		return
	}

	l.cancel()
	<-l.done
	l.cancel = nil

	l.logger.Debug().Msg("Replenishment loop stopped")
}

// Backoff returns the duration until the next epoch boundary. Callers
// retrying after a 429 sleep for this long so the retry lands in a fresh
// quota window.
func (l *Limiter) Backoff() time.Duration {
	return clock.Backoff(l.clk, l.period)
}

// Capacity returns the fixed permit capacity.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Period returns the fixed window period.
func (l *Limiter) Period() time.Duration {
	return l.period
}

// InUse returns the number of permits currently claimed, counting permits
// whose release is still pending a future epoch.
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.free
}

// run wakes at each epoch boundary and replenishes matured releases until
// cancelled.
func (l *Limiter) run(ctx context.Context) {
	defer close(l.done)

	for {
		timer := time.NewTimer(clock.Backoff(l.clk, l.period))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		l.replenish()
	}
}

// replenish frees every pending release whose epoch is strictly behind the
// current one. The current epoch is computed freshly on each pass; it is
// never cached across a sleep.
func (l *Limiter) replenish() {
	cur := clock.Epoch(l.clk, l.period)

	l.mu.Lock()
	freed := 0
	for len(l.pending) > 0 && l.pending[0].epoch < cur {
		rel := l.pending[0]
		l.pending = l.pending[1:]

		if l.free < l.capacity {
			l.free++
			freed++
		}

		l.logger.Debug().
			Int64("epoch", rel.epoch).
			Float64("elapsed", l.clk.Now().Sub(rel.at).Seconds()).
			Msg("Permit released")
	}
	if freed > 0 {
		// Broadcast to blocked acquirers.
		close(l.notify)
		l.notify = make(chan struct{})
	}
	l.mu.Unlock()

	if freed > 0 {
		fredPermitsReplenished.Add(float64(freed))
	}
}
