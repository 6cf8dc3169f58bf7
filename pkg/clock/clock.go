// Package clock provides the time source used for rate limit epoch math.
//
// The FRED quota window resets on wall-clock boundaries, so epochs are
// counted against the Unix epoch: with a 60s period, epoch boundaries line
// up with real-world minute boundaries.
package clock

import (
	"time"
)

// Clock supplies a monotonically non-decreasing "now" for one process run.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock directly. Subject to clock adjustments
// (NTP steps move the observed epoch), but always agrees with the host's
// notion of time-of-day.
type SystemClock struct{}

// Now returns the current wall-clock time with the monotonic reading
// stripped, so comparisons follow wall-clock adjustments.
func (SystemClock) Now() time.Time {
	return time.Now().Round(0)
}

// MonotonicClock combines a monotonic reading with a wall-clock offset
// captured once at construction. Immune to later clock adjustments, at the
// cost of a single calibration point.
type MonotonicClock struct {
	base time.Time
}

// NewMonotonicClock calibrates a monotonic clock against the current
// wall-clock time.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{base: time.Now()}
}

// Now returns the calibrated base advanced by the monotonic time elapsed
// since construction.
func (c *MonotonicClock) Now() time.Time {
	// time.Since uses the monotonic reading carried by base.
	return c.base.Round(0).Add(time.Since(c.base))
}

// Epoch returns the number of whole periods elapsed between the Unix epoch
// and the clock's current time.
func Epoch(c Clock, period time.Duration) int64 {
	return c.Now().UnixNano() / int64(period)
}

// Backoff returns the duration until the next epoch boundary.
// At an exact boundary it returns a full period, never zero.
func Backoff(c Clock, period time.Duration) time.Duration {
	rem := time.Duration(c.Now().UnixNano() % int64(period))
	return period - rem
}

// BackoffCeil is Backoff rounded up to the next whole second, matching the
// granularity the upstream service advertises for its reset window.
func BackoffCeil(c Clock, period time.Duration) time.Duration {
	b := Backoff(c, period)
	if r := b % time.Second; r != 0 {
		b += time.Second - r
	}
	return b
}
