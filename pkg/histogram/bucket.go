package histogram

import "fmt"

// Bucket is one quantized value range and the count of observations that
// landed in it. Bounds are inclusive on both ends.
type Bucket struct {
	low   uint64
	high  uint64
	count uint64
}

// Low returns the smallest value contained by the bucket.
func (b Bucket) Low() uint64 { return b.low }

// High returns the largest value contained by the bucket.
func (b Bucket) High() uint64 { return b.high }

// Count returns the number of observations recorded into the bucket.
func (b Bucket) Count() uint64 { return b.count }

// Midpoint returns the representative value for the bucket.
func (b Bucket) Midpoint() uint64 {
	return b.low + (b.high-b.low)/2
}

func (b Bucket) String() string {
	return fmt.Sprintf("[%d,%d]x%d", b.low, b.high, b.count)
}
