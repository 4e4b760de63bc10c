// Package health implements the deterministic stream health scoring
// function (spec.md §4.4).
package health

import (
	"fmt"
	"math"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

// Inputs are the rolling statistics over the last N segments (N=20 per
// spec.md §4.4) that feed the scorer.
type Inputs struct {
	ErrorRate        float64 // percent, 0-100
	ContinuityErrors int64
	SyncErrors       int64
	TransportErrors  int64
	TTFBAvg          float64 // ms
	DownloadRatio    float64 // throughput/bitrate, capped at 2.0 by the caller
	ManifestErrors   int64
}

type penalty struct {
	amount int
	reason string
}

// Score computes the health score, color band and per-factor penalty
// breakdown from the given rolling inputs (spec.md §4.4).
func Score(in Inputs) models.HealthScore {
	penalties := map[string]penalty{}

	if p := capInt(int(math.Floor(in.ErrorRate*10)), 30); p > 0 {
		penalties["error_rate"] = penalty{p, fmt.Sprintf("error rate %.2f%%", in.ErrorRate)}
	}
	if p := capInt(int(in.ContinuityErrors)*2, 20); p > 0 {
		penalties["continuity_errors"] = penalty{p, fmt.Sprintf("%d continuity errors", in.ContinuityErrors)}
	}
	if p := capInt(int(in.SyncErrors)*5, 25); p > 0 {
		penalties["sync_errors"] = penalty{p, fmt.Sprintf("%d sync errors", in.SyncErrors)}
	}
	if p := capInt(int(in.TransportErrors)*3, 15); p > 0 {
		penalties["transport_errors"] = penalty{p, fmt.Sprintf("%d transport errors", in.TransportErrors)}
	}
	if in.TTFBAvg > 500 {
		if p := capInt(int(math.Floor((in.TTFBAvg-500)/100)), 10); p > 0 {
			penalties["ttfb_avg"] = penalty{p, fmt.Sprintf("ttfb avg %.0fms", in.TTFBAvg)}
		}
	}
	if in.DownloadRatio < 1.0 {
		if p := capInt(int(math.Floor((1-in.DownloadRatio)*30)), 15); p > 0 {
			penalties["download_ratio"] = penalty{p, fmt.Sprintf("download ratio %.2f", in.DownloadRatio)}
		}
	}
	if p := capInt(int(in.ManifestErrors)*5, 10); p > 0 {
		penalties["manifest_errors"] = penalty{p, fmt.Sprintf("%d manifest errors", in.ManifestErrors)}
	}

	score := 100
	factors := make(map[string]string, len(penalties))
	for name, p := range penalties {
		score -= p.amount
		factors[name] = fmt.Sprintf("-%d (%s)", p.amount, p.reason)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return models.HealthScore{
		Score:   score,
		Color:   models.ColorForScore(score),
		Factors: factors,
	}
}

func capInt(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// RollingDownloadRatio computes mean(throughput)/mean(actual_bitrate),
// defaulting to 1.0 when the divisor is 0, and capping at 2.0 (spec.md
// §4.4 and the resolved "download_ratio capping" open question: the
// capped value is computed once here and fed to both the scorer and the
// alert engine).
func RollingDownloadRatio(meanThroughput, meanActualBitrate float64) float64 {
	if meanActualBitrate <= 0 {
		return 1.0
	}
	ratio := meanThroughput / meanActualBitrate
	if ratio > 2.0 {
		return 2.0
	}
	return ratio
}
