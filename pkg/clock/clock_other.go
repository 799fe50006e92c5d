//go:build !linux

package clock

func monotonicNow() Instant {
	return fallbackNow()
}

func coarseNow() Instant {
	return fallbackNow()
}
