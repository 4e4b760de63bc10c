// Package metrics provides the pure bitrate/throughput calculations used
// by the Monitor Engine when recording a downloaded segment (spec.md §3,
// §4.1 step 4).
package metrics

import "math"

// ActualBitrate computes the segment's realized bitrate in Mb/s from its
// size and declared duration. Returns 0 when durationSeconds is 0
// (spec.md §3 invariant).
func ActualBitrate(sizeBytes int64, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return round3(float64(sizeBytes) * 8 / durationSeconds / 1e6)
}

// Throughput computes the observed download speed in Mb/s from the
// segment's size and total download time. Returns 0 when
// downloadMillis is 0 (spec.md §3 invariant).
func Throughput(sizeBytes int64, downloadMillis float64) float64 {
	if downloadMillis <= 0 {
		return 0
	}
	seconds := downloadMillis / 1000
	return round3(float64(sizeBytes) * 8 / seconds / 1e6)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
