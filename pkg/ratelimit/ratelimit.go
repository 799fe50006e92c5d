// Package ratelimit provides a thread-safe token bucket rate limiter.
// Tokens refill at a configured rate and acquisition is a couple of atomic
// operations, so a limiter can gate work across many goroutines without a
// lock.
package ratelimit

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/quarterwave/heatring/pkg/clock"
)

var (
	// ErrInvalidRate is returned when a limiter is configured with a zero
	// rate.
	ErrInvalidRate = errors.New("ratelimit: rate must be greater than zero")

	// ErrWouldBlock is returned by TryWait when no token is available.
	ErrWouldBlock = errors.New("ratelimit: no tokens in bucket")
)

const second = 1_000_000_000

// Ratelimiter is a token bucket. The bucket holds up to capacity tokens,
// starts empty so a fresh limiter cannot burst, and gains quantum tokens
// rate/quantum times per second.
type Ratelimiter struct {
	available atomic.Uint64
	capacity  uint64
	quantum   uint64

	// nanoseconds between refills; replaced wholesale by SetRate
	interval atomic.Uint64

	// the instant the next refill is due; advanced by CAS so concurrent
	// acquirers agree on who applies the refill
	tickAt clock.AtomicInstant
}

// New constructs a limiter that releases quantum tokens at a time, rate
// tokens per second in total, holding at most capacity unspent tokens.
func New(capacity, quantum, rate uint64) (*Ratelimiter, error) {
	if rate == 0 {
		return nil, ErrInvalidRate
	}
	if quantum == 0 {
		quantum = 1
	}
	if capacity < quantum {
		capacity = quantum
	}

	r := &Ratelimiter{
		capacity: capacity,
		quantum:  quantum,
	}
	r.interval.Store(intervalFor(rate, quantum))
	r.tickAt.Store(clock.Now().Add(time.Duration(r.interval.Load())))
	return r, nil
}

// intervalFor converts a rate into nanoseconds between refills. Rates above
// quantum tokens per nanosecond clamp to one refill per nanosecond rather
// than producing a zero interval.
func intervalFor(rate, quantum uint64) uint64 {
	interval := second * quantum / rate
	if interval == 0 {
		interval = 1
	}
	return interval
}

// Rate returns the configured rate in tokens per second.
func (r *Ratelimiter) Rate() uint64 {
	return second * r.quantum / r.interval.Load()
}

// SetRate changes the refill rate. The new rate takes effect at the next
// refill.
func (r *Ratelimiter) SetRate(rate uint64) error {
	if rate == 0 {
		return ErrInvalidRate
	}
	r.interval.Store(intervalFor(rate, r.quantum))
	return nil
}

// refill moves time forward, releasing any tokens that have become due.
func (r *Ratelimiter) refill() {
	now := clock.Now()

	// loop so that losing the CAS re-checks whether tickAt has advanced
	// far enough to stop
	for {
		tickAt := r.tickAt.Load()
		if tickAt.After(now) {
			return
		}

		interval := r.interval.Load()
		ticks := 1 + uint64(now.Sub(tickAt))/interval
		next := now.Add(time.Duration(interval))

		if !r.tickAt.CompareAndSwap(tickAt, next) {
			continue
		}

		tokens := r.quantum * ticks
		available := r.available.Load()
		if available+tokens >= r.capacity {
			// saturate; a benign race with a concurrent acquirer can
			// only lose tokens, never mint extras
			r.available.Store(r.capacity)
		} else {
			r.available.Add(tokens)
		}
	}
}

// TryWait attempts to take one token without blocking. It returns
// ErrWouldBlock when the bucket is empty.
func (r *Ratelimiter) TryWait() error {
	r.refill()

	current := r.available.Load()
	for current > 0 {
		if r.available.CompareAndSwap(current, current-1) {
			return nil
		}
		current = r.available.Load()
	}
	return ErrWouldBlock
}

// Wait takes one token, spinning until one becomes available.
func (r *Ratelimiter) Wait() {
	for r.TryWait() != nil {
		runtime.Gosched()
	}
}
