// Package timerwheel implements a hashed timer wheel: cheap scheduling and
// cancellation of many timers with coarse, tick-granularity expiry. The
// wheel does not own a goroutine; the caller drives it by calling Advance
// with the current time, typically from a single maintenance loop.
package timerwheel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarterwave/heatring/pkg/clock"
)

var (
	// ErrInvalidTick is returned when the tick duration is not positive.
	ErrInvalidTick = errors.New("timerwheel: tick must be positive")

	// ErrInvalidSlots is returned when the slot count is not positive.
	ErrInvalidSlots = errors.New("timerwheel: wheel needs at least one slot")
)

// Timer is a handle to a scheduled callback.
type Timer struct {
	fn func()

	// laps of the wheel remaining before the timer is due
	rounds int

	stopped atomic.Bool
	fired   atomic.Bool
}

// Stop cancels the timer. It reports whether the cancellation prevented the
// callback from running; stopping an already-fired or already-stopped timer
// returns false.
func (t *Timer) Stop() bool {
	return t.stopped.CompareAndSwap(false, true) && !t.fired.Load()
}

// Wheel is a hashed timer wheel. Timers scheduled further out than one full
// rotation carry a lap count and are revisited each rotation. All methods
// are safe for concurrent use.
type Wheel struct {
	tick  time.Duration
	start clock.Instant

	mu     sync.Mutex
	slots  [][]*Timer
	cursor int
	ticked int64
}

// New constructs a wheel with the given tick granularity and slot count,
// starting at now. Expiry error is at most one tick.
func New(tick time.Duration, slots int, now clock.Instant) (*Wheel, error) {
	if tick <= 0 {
		return nil, ErrInvalidTick
	}
	if slots <= 0 {
		return nil, ErrInvalidSlots
	}
	return &Wheel{
		tick:  tick,
		start: now,
		slots: make([][]*Timer, slots),
	}, nil
}

// Tick returns the wheel's tick granularity.
func (w *Wheel) Tick() time.Duration { return w.tick }

// Schedule registers fn to run once after delay, rounded up to the next
// tick. The callback runs on the goroutine that calls Advance.
func (w *Wheel) Schedule(delay time.Duration, fn func()) *Timer {
	ticksAhead := int((delay + w.tick - 1) / w.tick)
	if ticksAhead < 1 {
		ticksAhead = 1
	}

	t := &Timer{
		fn:     fn,
		rounds: (ticksAhead - 1) / len(w.slots),
	}

	w.mu.Lock()
	slot := (w.cursor + ticksAhead) % len(w.slots)
	w.slots[slot] = append(w.slots[slot], t)
	w.mu.Unlock()

	return t
}

// Advance moves the wheel forward to cover now, expiring due timers in tick
// order. Callbacks run outside the wheel's lock, so they may schedule new
// timers; a callback that blocks delays everything behind it.
func (w *Wheel) Advance(now clock.Instant) {
	due := int64(now.Sub(w.start) / w.tick)

	for {
		var fire []*Timer

		w.mu.Lock()
		if w.ticked >= due {
			w.mu.Unlock()
			return
		}
		w.ticked++
		w.cursor = (w.cursor + 1) % len(w.slots)

		slot := w.slots[w.cursor]
		var keep []*Timer
		for _, t := range slot {
			if t.stopped.Load() {
				continue
			}
			if t.rounds > 0 {
				t.rounds--
				keep = append(keep, t)
				continue
			}
			t.fired.Store(true)
			fire = append(fire, t)
		}
		w.slots[w.cursor] = keep
		w.mu.Unlock()

		for _, t := range fire {
			if !t.stopped.Load() {
				t.fn()
			}
		}
	}
}
