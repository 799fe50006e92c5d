// Package clock provides a cheap monotonic time source for hot-path
// timestamping. Readings are plain uint64 nanosecond values so they can be
// stored in atomics and compared without conversions.
package clock

import (
	"sync/atomic"
	"time"
)

// Instant is a reading of the monotonic clock in nanoseconds. Instants are
// opaque: only differences between them are meaningful. The zero Instant is
// the clock's epoch (boot on Linux), not the Unix epoch.
type Instant uint64

// Now returns the current monotonic clock reading.
func Now() Instant {
	return monotonicNow()
}

// CoarseNow returns a reduced-resolution monotonic reading. On Linux this
// uses CLOCK_MONOTONIC_COARSE which is cheaper to read than the precise
// clock; the tradeoff is tick-granularity (typically 1-4ms) resolution.
func CoarseNow() Instant {
	return coarseNow()
}

// Add returns the instant d later than i. Negative durations that would
// underflow the clock epoch saturate to zero.
func (i Instant) Add(d time.Duration) Instant {
	if d < 0 && Instant(-d) > i {
		return 0
	}
	return Instant(int64(i) + int64(d))
}

// Sub returns the duration from earlier until i. If earlier is after i, the
// result is zero rather than negative: callers compare instants first when
// the sign matters.
func (i Instant) Sub(earlier Instant) time.Duration {
	if earlier > i {
		return 0
	}
	return time.Duration(i - earlier)
}

// Before reports whether i is before other.
func (i Instant) Before(other Instant) bool { return i < other }

// After reports whether i is after other.
func (i Instant) After(other Instant) bool { return i > other }

// Elapsed returns the time since i.
func (i Instant) Elapsed() time.Duration {
	return Now().Sub(i)
}

// AtomicInstant is an Instant that can be read and written atomically. The
// zero value is ready to use and holds the zero Instant.
type AtomicInstant struct {
	v atomic.Uint64
}

// Load atomically reads the instant.
func (a *AtomicInstant) Load() Instant {
	return Instant(a.v.Load())
}

// Store atomically writes the instant.
func (a *AtomicInstant) Store(i Instant) {
	a.v.Store(uint64(i))
}

// CompareAndSwap atomically replaces old with new and reports whether the
// swap happened.
func (a *AtomicInstant) CompareAndSwap(old, new Instant) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}
