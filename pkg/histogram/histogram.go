// Package histogram provides a concurrent quantized counting histogram for
// tracking value distributions (typically latencies) with bounded relative
// error. Increments are a single atomic add, so a histogram can be written
// from any number of goroutines on the hot path of a service.
package histogram

import "sync/atomic"

// Histogram counts observations in log-linear buckets. All methods except
// Clear are safe for concurrent use; Clear must not run concurrently with
// writes to the same instance (in a heatmap, the rotation protocol is what
// guarantees this).
//
// Counters are 64 bits wide and wrap only after 2^64 events land in a single
// bucket, which is unreachable with per-event increments; Merge with very
// large counts inherits the same wrapping behavior.
type Histogram struct {
	config  Config
	buckets []atomic.Uint64
}

// New constructs a histogram with the given bucket layout parameters. See
// NewConfig for their meaning and constraints.
func New(groupingPower, maxValuePower uint8) (*Histogram, error) {
	config, err := NewConfig(groupingPower, maxValuePower)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(config), nil
}

// NewWithConfig constructs a histogram sharing an existing layout. A heatmap
// uses this so that every slice and the summary agree on bucket boundaries.
func NewWithConfig(config Config) *Histogram {
	return &Histogram{
		config:  config,
		buckets: make([]atomic.Uint64, config.Buckets()),
	}
}

// Config returns the bucket layout.
func (h *Histogram) Config() Config { return h.config }

// Increment adds one observation of value. Lock-free; never blocks, never
// fails. Values above the representable maximum clamp into the top bucket.
func (h *Histogram) Increment(value uint64) {
	h.buckets[h.config.ValueToIndex(value)].Add(1)
}

// Add records count observations of value in a single atomic add.
func (h *Histogram) Add(value uint64, count uint64) {
	h.buckets[h.config.ValueToIndex(value)].Add(count)
}

// Total returns the number of observations across all buckets. Concurrent
// writers may make the result approximate, never torn.
func (h *Histogram) Total() uint64 {
	var total uint64
	for i := range h.buckets {
		total += h.buckets[i].Load()
	}
	return total
}

// Merge adds other's counts into h elementwise.
func (h *Histogram) Merge(other *Histogram) error {
	if h.config != other.config {
		return ErrIncompatibleParameters
	}
	for i := range h.buckets {
		if v := other.buckets[i].Load(); v != 0 {
			h.buckets[i].Add(v)
		}
	}
	return nil
}

// Subtract removes other's counts from h elementwise. The caller must
// guarantee other is a subset of h (the heatmap rotation protocol does);
// otherwise counters underflow and wrap.
func (h *Histogram) Subtract(other *Histogram) error {
	if h.config != other.config {
		return ErrIncompatibleParameters
	}
	for i := range h.buckets {
		if v := other.buckets[i].Load(); v != 0 {
			// fetch-add of the two's complement
			h.buckets[i].Add(^v + 1)
		}
	}
	return nil
}

// Clear zeroes every counter. Not safe concurrently with writers targeting
// the same histogram.
func (h *Histogram) Clear() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
}

// Percentile returns the bucket containing the p-th percentile (0.0 to
// 100.0) of recorded values.
func (h *Histogram) Percentile(p float64) (Bucket, error) {
	buckets, err := h.Percentiles(p)
	if err != nil {
		return Bucket{}, err
	}
	return buckets[0], nil
}

// Percentiles returns the bucket for each requested percentile, in the same
// order as the arguments. The counters are copied once up front, so the
// result is a consistent view even with concurrent writers.
func (h *Histogram) Percentiles(ps ...float64) ([]Bucket, error) {
	return h.Snapshot().Percentiles(ps...)
}

// Snapshot copies the current counts into an immutable point-in-time view.
func (h *Histogram) Snapshot() *Snapshot {
	counts := make([]uint64, len(h.buckets))
	var total uint64
	for i := range h.buckets {
		counts[i] = h.buckets[i].Load()
		total += counts[i]
	}
	return &Snapshot{config: h.config, counts: counts, total: total}
}
