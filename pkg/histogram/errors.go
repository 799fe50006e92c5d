package histogram

import "errors"

var (
	// ErrMaxPowerTooHigh is returned when the max value power exceeds 64.
	ErrMaxPowerTooHigh = errors.New("histogram: max value power must be at most 64")

	// ErrMaxPowerTooLow is returned when the max value power does not exceed
	// the grouping power.
	ErrMaxPowerTooLow = errors.New("histogram: max value power must be greater than grouping power")

	// ErrIncompatibleParameters is returned when two histograms with
	// different bucket layouts are combined.
	ErrIncompatibleParameters = errors.New("histogram: incompatible histogram parameters")

	// ErrEmpty is returned when a percentile is requested from a histogram
	// with no recorded samples.
	ErrEmpty = errors.New("histogram: histogram is empty")

	// ErrInvalidPercentile is returned when a requested percentile is outside
	// of the range 0.0 to 100.0 inclusive.
	ErrInvalidPercentile = errors.New("histogram: percentile must be between 0.0 and 100.0")
)
