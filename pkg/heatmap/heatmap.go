// Package heatmap implements a sliding-window view over a value
// distribution: a ring of histogram slices that rotates with wall-clock
// time, plus a cached summary histogram covering the whole window. Writers
// record timestamped values with a couple of atomic adds; a maintenance
// caller advances the window once per resolution interval; readers get
// percentiles over the window from the cached summary without touching the
// slices.
package heatmap

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/histogram"
)

var (
	// ErrInvalidResolution is returned when the resolution is not positive.
	ErrInvalidResolution = errors.New("heatmap: resolution must be positive")

	// ErrInvalidSpan is returned when the span is not positive.
	ErrInvalidSpan = errors.New("heatmap: span must be at least one slice")
)

// Heatmap tracks a value distribution over the trailing window of
// span*resolution. Increment and the read methods are safe for concurrent
// use from any number of goroutines and never block; Tick serializes
// rotation behind a mutex but never excludes writers.
//
// The ring holds span+1 slices: one extra beyond the reporting window so
// that the slice being cleared during rotation is never the slice a
// concurrent increment (which read the tick counter just before the
// advance) may still be targeting. Each increment reads the tick counter
// exactly once; widening that to multiple reads would require growing the
// ring by the same number of extra slices.
type Heatmap struct {
	resolution time.Duration
	span       int
	origin     clock.Instant

	// current window boundary; slot numbers tick-span+1 through tick are
	// inside the reporting window
	tick atomic.Int64

	slices  []*histogram.Histogram
	summary *histogram.Histogram
	dropped atomic.Uint64

	// serializes rotation only; the increment path never takes it
	mu sync.Mutex
}

// New constructs a heatmap covering span slices of the given resolution,
// with the window origin pinned to the current time.
func New(groupingPower, maxValuePower uint8, resolution time.Duration, span int) (*Heatmap, error) {
	return NewAt(groupingPower, maxValuePower, resolution, span, clock.Now())
}

// NewAt constructs a heatmap whose first slice begins at origin. Useful for
// replaying recorded timestamps and for deterministic tests.
func NewAt(groupingPower, maxValuePower uint8, resolution time.Duration, span int, origin clock.Instant) (*Heatmap, error) {
	config, err := histogram.NewConfig(groupingPower, maxValuePower)
	if err != nil {
		return nil, err
	}
	if resolution <= 0 {
		return nil, ErrInvalidResolution
	}
	if span <= 0 {
		return nil, ErrInvalidSpan
	}

	// one slice beyond the span, see the type comment
	slices := make([]*histogram.Histogram, span+1)
	for i := range slices {
		slices[i] = histogram.NewWithConfig(config)
	}

	return &Heatmap{
		resolution: resolution,
		span:       span,
		origin:     origin,
		slices:     slices,
		summary:    histogram.NewWithConfig(config),
	}, nil
}

// Resolution returns the duration covered by one slice.
func (h *Heatmap) Resolution() time.Duration { return h.resolution }

// Span returns the number of slices in the reporting window.
func (h *Heatmap) Span() int { return h.span }

// Slices returns the total number of slices in the ring, including the
// extra rotation buffer.
func (h *Heatmap) Slices() int { return len(h.slices) }

// Origin returns the instant the first slice began.
func (h *Heatmap) Origin() clock.Instant { return h.origin }

// Config returns the bucket layout shared by all slices and the summary.
func (h *Heatmap) Config() histogram.Config { return h.summary.Config() }

// Dropped returns the number of observations discarded because their
// timestamps fell outside the reporting window. Collaborators that want to
// alert on late samples can export this.
func (h *Heatmap) Dropped() uint64 { return h.dropped.Load() }

// Increment records one observation of value happening now.
func (h *Heatmap) Increment(value uint64) {
	h.Add(clock.Now(), value, 1)
}

// IncrementAt records one observation of value at the given instant.
// Observations outside the reporting window are silently dropped.
func (h *Heatmap) IncrementAt(at clock.Instant, value uint64) {
	h.Add(at, value, 1)
}

// Add records count observations of value at the given instant. The slice
// and the summary are updated with two independent atomic adds; readers may
// transiently observe one without the other, bounded by the number of
// increments in flight.
func (h *Heatmap) Add(at clock.Instant, value uint64, count uint64) {
	idx, ok := h.route(at)
	if !ok {
		h.dropped.Add(count)
		return
	}
	h.slices[idx].Add(value, count)
	h.summary.Add(value, count)
}

// route maps a timestamp to a ring index, or reports that the timestamp is
// outside the reporting window. The tick counter is read exactly once.
func (h *Heatmap) route(at clock.Instant) (int, bool) {
	cur := h.tick.Load()

	if at.Before(h.origin) {
		return 0, false
	}
	slot := int64(at.Sub(h.origin) / h.resolution)
	if slot > cur || slot < cur-int64(h.span)+1 {
		return 0, false
	}
	return int(slot % int64(len(h.slices))), true
}

// Tick advances the window to cover now, one resolution interval at a time.
// Calling early is a no-op; calling late applies every pending advance in
// order. Only one rotation proceeds at a time.
//
// Each advance publishes the new tick value first, so that any increment
// observing it can no longer route into the retiring slice, then folds the
// retiring slice out of the summary and clears it for reuse. Subtracting
// after clearing would subtract zero and leave the retired counts in the
// summary forever, so the order here is load-bearing.
func (h *Heatmap) Tick(now clock.Instant) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if now.Before(h.origin) {
		return
	}
	due := int64(now.Sub(h.origin) / h.resolution)

	cur := h.tick.Load()
	if due-cur >= int64(len(h.slices)) {
		// the maintenance path stalled for longer than the whole ring:
		// every slice ages out, so retire them all instead of rotating
		// one tick at a time. The ring must be drained before the new
		// tick is published: increments still holding the old tick can
		// only target old-window slots, and samples for the new window
		// stay out-of-window (dropped) until the store below, so no
		// slice is cleared while it is receiving increments.
		for _, slice := range h.slices {
			_ = h.summary.Subtract(slice)
			slice.Clear()
		}
		h.tick.Store(due)
		return
	}

	for ; cur < due; cur++ {
		next := cur + 1
		h.tick.Store(next)

		retiring := next - int64(h.span)
		if retiring < 0 {
			// the window has not filled yet, nothing ages out
			continue
		}
		idx := int(retiring % int64(len(h.slices)))
		_ = h.summary.Subtract(h.slices[idx])
		h.slices[idx].Clear()
	}
}

// Summary returns the live cached summary histogram covering the reporting
// window. Reads race benignly with concurrent increments; callers wanting a
// stable view should use Summary().Snapshot() or WindowSnapshot.
func (h *Heatmap) Summary() *histogram.Histogram { return h.summary }

// Percentile returns the bucket containing the p-th percentile of the
// window, read from the cached summary.
func (h *Heatmap) Percentile(p float64) (histogram.Bucket, error) {
	return h.summary.Percentile(p)
}

// Percentiles returns the buckets for the requested percentiles, read from
// a single consistent copy of the cached summary.
func (h *Heatmap) Percentiles(ps ...float64) ([]histogram.Bucket, error) {
	return h.summary.Percentiles(ps...)
}

// ActiveSlices returns how many slices currently hold in-window data.
func (h *Heatmap) ActiveSlices() int {
	cur := h.tick.Load()
	if cur+1 < int64(h.span) {
		return int(cur + 1)
	}
	return h.span
}

// WindowSnapshot merges the active slices into one snapshot. This is the
// exact-as-possible read: O(buckets * span) instead of the summary's
// O(buckets), with no rotation skew.
func (h *Heatmap) WindowSnapshot() *histogram.Snapshot {
	var merged *histogram.Snapshot
	h.EachSlice(func(_ clock.Instant, snap *histogram.Snapshot) {
		if merged == nil {
			merged = snap
			return
		}
		_ = merged.Merge(snap)
	})
	return merged
}

// EachSlice calls fn once per active slice in chronological order, passing
// the slice's start instant and a point-in-time snapshot of its counts.
func (h *Heatmap) EachSlice(fn func(start clock.Instant, snap *histogram.Snapshot)) {
	cur := h.tick.Load()
	first := cur - int64(h.span) + 1
	if first < 0 {
		first = 0
	}
	for slot := first; slot <= cur; slot++ {
		idx := int(slot % int64(len(h.slices)))
		start := h.origin.Add(time.Duration(slot) * h.resolution)
		fn(start, h.slices[idx].Snapshot())
	}
}
