package histogram

import "math/bits"

// Config determines the bucket layout for a histogram and converts between
// values and bucket indexes. The layout is log-linear: values below the
// cutoff `2^(groupingPower+1)` map one-to-one onto buckets, and each
// power-of-two band above the cutoff is split into `2^groupingPower` equal
// width buckets. That bounds the relative error for quantized values to
// `2^-(groupingPower+1)` while keeping the index computation to a couple of
// bit operations, with no floating point on the increment path.
//
// A Config is immutable once constructed and is shared by every histogram
// slice in a heatmap.
type Config struct {
	groupingPower uint8
	maxValuePower uint8

	max              uint64
	cutoffPower      uint8
	cutoffValue      uint64
	lowerBucketCount uint32
	upperBucketDivs  uint32
	totalBuckets     uint32
}

// NewConfig validates the parameters and precomputes the bucket layout.
//
// groupingPower sets how many low-order bits keep full linear resolution
// within each power-of-two magnitude band. maxValuePower sets the largest
// representable value to `2^maxValuePower` (or MaxUint64 when it is 64);
// larger values clamp into the top bucket.
func NewConfig(groupingPower, maxValuePower uint8) (Config, error) {
	g := uint32(groupingPower)
	m := uint32(maxValuePower)

	if m > 64 {
		return Config{}, ErrMaxPowerTooHigh
	}
	if g >= m {
		return Config{}, ErrMaxPowerTooLow
	}

	// The cutoff is where the linear range ends and the subdivided
	// logarithmic bands begin. Bands below the cutoff have bucket width 1,
	// and the first band above it also has width 1, so the cutoff power is
	// groupingPower+1.
	cutoffPower := g + 1
	cutoffValue := uint64(1) << cutoffPower

	max := uint64(0)
	if m == 64 {
		max = ^uint64(0)
	} else {
		max = uint64(1) << m
	}

	lowerBucketCount := uint32(1) << cutoffPower
	upperBucketDivs := uint32(1) << g
	upperBucketCount := (m - cutoffPower) * upperBucketDivs

	return Config{
		groupingPower:    groupingPower,
		maxValuePower:    maxValuePower,
		max:              max,
		cutoffPower:      uint8(cutoffPower),
		cutoffValue:      cutoffValue,
		lowerBucketCount: lowerBucketCount,
		upperBucketDivs:  upperBucketDivs,
		totalBuckets:     lowerBucketCount + upperBucketCount,
	}, nil
}

// GroupingPower returns the grouping power the config was built with.
func (c Config) GroupingPower() uint8 { return c.groupingPower }

// MaxValuePower returns the max value power the config was built with.
func (c Config) MaxValuePower() uint8 { return c.maxValuePower }

// Max returns the largest representable value. Values above it clamp into
// the top bucket.
func (c Config) Max() uint64 { return c.max }

// Buckets returns the total number of buckets for this layout.
func (c Config) Buckets() int { return int(c.totalBuckets) }

// ValueToIndex maps a value to its bucket index. This is a total function:
// values above the representable maximum land in the top bucket.
func (c Config) ValueToIndex(value uint64) int {
	if value < c.cutoffValue {
		return int(value)
	}

	if value >= c.max {
		return int(c.totalBuckets) - 1
	}

	power := uint32(bits.Len64(value)) - 1
	logBucket := power - uint32(c.cutoffPower)
	offset := (value - (uint64(1) << power)) >> (power - uint32(c.groupingPower))

	return int(c.lowerBucketCount + logBucket*c.upperBucketDivs + uint32(offset))
}

// IndexToLowerBound returns the smallest value that maps to the bucket.
func (c Config) IndexToLowerBound(index int) uint64 {
	g := uint64(c.groupingPower)
	band := uint64(index) >> g
	h := uint64(index) - band<<g

	if band < 1 {
		return h
	}
	return (uint64(1) << (g + band - 1)) + (uint64(1)<<(band-1))*h
}

// IndexToUpperBound returns the largest value that maps to the bucket
// (inclusive).
func (c Config) IndexToUpperBound(index int) uint64 {
	if index == int(c.totalBuckets)-1 {
		return c.max
	}

	g := uint64(c.groupingPower)
	band := uint64(index) >> g
	h := uint64(index) - band<<g + 1

	if band < 1 {
		return h - 1
	}
	return (uint64(1) << (g + band - 1)) + (uint64(1)<<(band-1))*h - 1
}
