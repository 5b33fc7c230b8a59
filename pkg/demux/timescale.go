package demux

import "math"

// ticksToMicros converts stream-time ticks to microseconds, rounding
// half up. Sample timestamps, sample durations and stream durations
// all go through this helper so they agree with each other; bit and
// frame rates are rounded separately.
func ticksToMicros(ticks int64, timeScale uint32) int64 {
	if timeScale == 0 {
		return 0
	}
	if ticks < 0 {
		return -ticksToMicros(-ticks, timeScale)
	}
	return (ticks*1_000_000 + int64(timeScale)/2) / int64(timeScale)
}

// round3 rounds to 3 decimals, the precision frame rates are reported
// with.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
