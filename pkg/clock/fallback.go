package clock

import "time"

// epoch anchors the portable fallback so readings are monotonic within a
// process even where clock_gettime is unavailable.
var epoch = time.Now()

func fallbackNow() Instant {
	return Instant(time.Since(epoch))
}
