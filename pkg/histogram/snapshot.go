package histogram

import (
	"math"
	"sort"
)

// Snapshot is a point-in-time copy of a histogram's counts. It is immutable
// from the producing histogram's perspective and safe to read from any
// goroutine; Merge mutates the snapshot itself and is not synchronized.
type Snapshot struct {
	config Config
	counts []uint64
	total  uint64
}

// Config returns the bucket layout of the snapshot.
func (s *Snapshot) Config() Config { return s.config }

// Total returns the number of observations in the snapshot.
func (s *Snapshot) Total() uint64 { return s.total }

// Merge adds other's counts into s elementwise. Used to fold several slices
// or several agents' summaries into one distribution.
func (s *Snapshot) Merge(other *Snapshot) error {
	if s.config != other.config {
		return ErrIncompatibleParameters
	}
	for i, v := range other.counts {
		s.counts[i] += v
	}
	s.total += other.total
	return nil
}

// Each calls fn for every bucket in index order, including empty buckets.
func (s *Snapshot) Each(fn func(Bucket)) {
	for i, count := range s.counts {
		fn(Bucket{
			low:   s.config.IndexToLowerBound(i),
			high:  s.config.IndexToUpperBound(i),
			count: count,
		})
	}
}

// Percentile returns the bucket containing the p-th percentile.
func (s *Snapshot) Percentile(p float64) (Bucket, error) {
	buckets, err := s.Percentiles(p)
	if err != nil {
		return Bucket{}, err
	}
	return buckets[0], nil
}

// Percentiles returns the bucket for each requested percentile (0.0 to
// 100.0), in the same order as the arguments. The counts are walked once
// regardless of how many percentiles are requested.
func (s *Snapshot) Percentiles(ps ...float64) ([]Bucket, error) {
	for _, p := range ps {
		if math.IsNaN(p) || p < 0.0 || p > 100.0 {
			return nil, ErrInvalidPercentile
		}
	}
	if s.total == 0 {
		return nil, ErrEmpty
	}

	// walk the requested percentiles in ascending order so a single pass
	// over the buckets serves all of them
	order := make([]int, len(ps))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	results := make([]Bucket, len(ps))

	idx := 0
	cum := s.counts[0]
	for _, o := range order {
		needed := uint64(math.Ceil(ps[o] / 100.0 * float64(s.total)))
		if needed == 0 {
			needed = 1
		}
		for cum < needed && idx+1 < len(s.counts) {
			idx++
			cum += s.counts[idx]
		}
		results[o] = Bucket{
			low:   s.config.IndexToLowerBound(idx),
			high:  s.config.IndexToUpperBound(idx),
			count: s.counts[idx],
		}
	}

	return results, nil
}
