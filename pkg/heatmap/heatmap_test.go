package heatmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/histogram"
)

func TestNewErrors(t *testing.T) {
	_, err := New(8, 8, time.Second, 3)
	assert.ErrorIs(t, err, histogram.ErrMaxPowerTooLow)

	_, err = New(2, 8, 0, 3)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, err = New(2, 8, -time.Second, 3)
	assert.ErrorIs(t, err, ErrInvalidResolution)

	_, err = New(2, 8, time.Second, 0)
	assert.ErrorIs(t, err, ErrInvalidSpan)

	hm, err := New(2, 8, time.Second, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, hm.Span())
	assert.Equal(t, 4, hm.Slices(), "ring carries one slice beyond the span")
}

func TestAgeOut(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	hm.IncrementAt(origin, 5)
	require.Equal(t, uint64(1), hm.Summary().Total())

	// still inside the window after two rotations
	hm.Tick(origin.Add(2 * time.Second))
	require.Equal(t, uint64(1), hm.Summary().Total())

	// third rotation retires the slice holding the observation
	hm.Tick(origin.Add(3 * time.Second))
	assert.Equal(t, uint64(0), hm.Summary().Total())

	// a fresh observation starts over in the new window
	hm.IncrementAt(origin.Add(3*time.Second), 5)
	b, err := hm.Percentile(50.0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), b.Low())
	assert.Equal(t, uint64(5), b.High())
	assert.Equal(t, uint64(1), b.Count(), "retired count must not linger")
}

func TestOutOfWindowDropped(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	hm.Tick(origin.Add(5 * time.Second))

	// older than span*resolution before the current tick
	hm.IncrementAt(origin, 7)
	assert.Equal(t, uint64(0), hm.Summary().Total())
	assert.Equal(t, uint64(1), hm.Dropped())

	// too far in the future
	hm.IncrementAt(origin.Add(10*time.Second), 7)
	assert.Equal(t, uint64(0), hm.Summary().Total())
	assert.Equal(t, uint64(2), hm.Dropped())

	// before the origin
	pre, err := NewAt(2, 8, time.Second, 3, clock.Instant(time.Second))
	require.NoError(t, err)
	pre.IncrementAt(clock.Instant(0), 7)
	assert.Equal(t, uint64(1), pre.Dropped())
}

func TestTickCatchup(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	hm.IncrementAt(origin, 5)

	// a stalled maintenance path applies all pending advances at once
	hm.Tick(origin.Add(10 * time.Second))
	assert.Equal(t, uint64(0), hm.Summary().Total())
	assert.Equal(t, 3, hm.ActiveSlices())

	// the window follows the ticks: slots 8..10 are current now
	hm.IncrementAt(origin.Add(9*time.Second), 5)
	assert.Equal(t, uint64(1), hm.Summary().Total())
}

func TestTickEarlyNoop(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	hm.IncrementAt(origin, 5)
	hm.Tick(origin.Add(500 * time.Millisecond))
	hm.Tick(origin.Add(999 * time.Millisecond))
	assert.Equal(t, uint64(1), hm.Summary().Total())
	assert.Equal(t, 1, hm.ActiveSlices())
}

// With no increments in flight the cached summary must exactly equal the
// merge of the active slices.
func TestSummaryMatchesSlices(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	for slot := 0; slot < 5; slot++ {
		at := origin.Add(time.Duration(slot) * time.Second)
		hm.Tick(at)
		hm.IncrementAt(at, uint64(10+slot))
		hm.IncrementAt(at, uint64(10+slot))
	}

	summary := hm.Summary().Snapshot()
	window := hm.WindowSnapshot()
	require.NotNil(t, window)

	assert.Equal(t, window.Total(), summary.Total())
	assert.Equal(t, uint64(6), summary.Total(), "slots 2..4 remain, two counts each")

	ps := []float64{50.0, 90.0, 100.0}
	fromSummary, err := summary.Percentiles(ps...)
	require.NoError(t, err)
	fromWindow, err := window.Percentiles(ps...)
	require.NoError(t, err)
	assert.Equal(t, fromWindow, fromSummary)
}

func TestConcurrentIncrements(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(7, 64, time.Second, 3, origin)
	require.NoError(t, err)

	const writers = 100
	const perWriter = 1000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				hm.IncrementAt(origin, 42)
			}
		}()
	}
	wg.Wait()

	b, err := hm.Percentile(50.0)
	require.NoError(t, err)
	assert.Equal(t, uint64(writers*perWriter), b.Count())
	assert.Equal(t, uint64(writers*perWriter), hm.Summary().Total())
	assert.Equal(t, uint64(0), hm.Dropped())
}

// Rotation running concurrently with writers must never corrupt the
// summary: after the writers stop and the window fully turns over, the
// summary drains back to empty.
func TestConcurrentTickAndIncrement(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(7, 64, time.Millisecond, 3, origin)
	require.NoError(t, err)

	// the rotator publishes the instant it has ticked to; writers stamp
	// their observations with it so they always target the open slice
	var now clock.AtomicInstant
	now.Store(origin)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				hm.IncrementAt(now.Load(), uint64(i%1000))
			}
		}()
	}

	for step := 1; step <= 10; step++ {
		at := origin.Add(time.Duration(step) * time.Millisecond)
		hm.Tick(at)
		now.Store(at)
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	wg.Wait()

	// turn the window over completely
	hm.Tick(origin.Add(time.Second))
	assert.Equal(t, uint64(0), hm.Summary().Total())
}

// A catch-up Tick running while writers already stamp observations with
// the post-jump instant must not clear a slice those writers are landing
// in: counts wiped from a slice but left in the summary would never drain.
func TestTickCatchupConcurrentWriters(t *testing.T) {
	origin := clock.Instant(0)

	for iter := 0; iter < 50; iter++ {
		hm, err := NewAt(7, 64, time.Millisecond, 3, origin)
		require.NoError(t, err)

		jump := origin.Add(10 * time.Second)
		start := make(chan struct{})
		stop := make(chan struct{})
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; ; i++ {
					select {
					case <-stop:
						return
					default:
					}
					hm.IncrementAt(jump, uint64(i%1000))
				}
			}()
		}

		close(start)
		hm.Tick(jump)
		close(stop)
		wg.Wait()

		// everything accepted after the jump drains once the window
		// fully turns over
		hm.Tick(jump.Add(time.Second))
		if !assert.Equal(t, uint64(0), hm.Summary().Total(), "iteration %d", iter) {
			return
		}
	}
}

func TestEachSliceOrder(t *testing.T) {
	origin := clock.Instant(0)
	hm, err := NewAt(2, 8, time.Second, 3, origin)
	require.NoError(t, err)

	for slot := 0; slot < 4; slot++ {
		at := origin.Add(time.Duration(slot) * time.Second)
		hm.Tick(at)
		hm.Add(at, 5, uint64(slot+1))
	}

	var starts []clock.Instant
	var counts []uint64
	hm.EachSlice(func(start clock.Instant, snap *histogram.Snapshot) {
		starts = append(starts, start)
		counts = append(counts, snap.Total())
	})

	require.Len(t, starts, 3)
	assert.Equal(t, origin.Add(1*time.Second), starts[0])
	assert.Equal(t, origin.Add(3*time.Second), starts[2])
	assert.Equal(t, []uint64{2, 3, 4}, counts)
}
