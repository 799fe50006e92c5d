//go:build linux

package clock

import "golang.org/x/sys/unix"

func monotonicNow() Instant {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// clock_gettime on a valid clock id does not fail on Linux
		return fallbackNow()
	}
	return Instant(uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec))
}

func coarseNow() Instant {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_COARSE, &ts); err != nil {
		return fallbackNow()
	}
	return Instant(uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec))
}
