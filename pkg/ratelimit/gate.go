package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/bgrams/fredio/pkg/clock"
	"github.com/rs/zerolog"
)

// Gate is the shared admission point handed to request issuers. It owns
// the active Limiter and supports swapping it for one with different
// limits while in-flight work drains against the old instance.
type Gate struct {
	clk    clock.Clock
	logger zerolog.Logger

	mu      sync.RWMutex
	limiter *Limiter
}

// NewGate creates a gate around a started limiter with the given limits.
func NewGate(capacity int, period time.Duration, clk clock.Clock, logger zerolog.Logger) *Gate {
	l := NewLimiter(capacity, period, clk, logger)
	l.Start()

	return &Gate{
		clk:     clk,
		logger:  logger.With().Str("component", "rate-gate").Logger(),
		limiter: l,
	}
}

// Acquire claims a permit from the active limiter. The returned release
// function is bound to the limiter the permit came from, so a concurrent
// Reconfigure cannot misroute the release. Release is safe to call more
// than once; only the first call counts.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	g.mu.RLock()
	l := g.limiter
	g.mu.RUnlock()

	if err := l.Acquire(ctx); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(l.Release) }, nil
}

// Backoff returns the active limiter's duration until the next epoch
// boundary.
func (g *Gate) Backoff() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter.Backoff()
}

// Reconfigure replaces the active limiter with one of the given capacity
// and period. The old limiter's loop is stopped before the new one starts
// so two loops never run against the same clock. Permits already acquired
// from the old instance drain through their bound release functions.
func (g *Gate) Reconfigure(capacity int, period time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.limiter
	old.Stop()

	next := NewLimiter(capacity, period, g.clk, g.logger)
	next.Start()
	g.limiter = next

	g.logger.Info().
		Int("capacity", next.Capacity()).
		Dur("period", next.Period()).
		Int("old_in_use", old.InUse()).
		Msg("Rate limiter reconfigured")
}

// Stop stops the active limiter's replenishment loop.
func (g *Gate) Stop() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.limiter.Stop()
}

// Limiter returns the currently active limiter (for inspection in tests
// and diagnostics).
func (g *Gate) Limiter() *Limiter {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter
}
