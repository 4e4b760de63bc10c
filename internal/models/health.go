package models

import "time"

// HealthColor is the coarse traffic-light band derived from Score (spec.md §3/§4.4).
type HealthColor string

const (
	ColorGreen  HealthColor = "GREEN"
	ColorYellow HealthColor = "YELLOW"
	ColorRed    HealthColor = "RED"
)

// ColorForScore returns the band for a score per the thresholds in spec.md §3.
func ColorForScore(score int) HealthColor {
	switch {
	case score >= 80:
		return ColorGreen
	case score >= 50:
		return ColorYellow
	default:
		return ColorRed
	}
}

// HealthScore is the output of internal/health.Score (spec.md §4.4).
type HealthScore struct {
	Score   int                `json:"score"`
	Color   HealthColor        `json:"color"`
	Factors map[string]string  `json:"factors"` // factor -> "-N (reason)"
}

// StreamStatus is the coarse lifecycle state of a monitored stream (spec.md §3).
type StreamStatus string

const (
	StatusStarting StreamStatus = "STARTING"
	StatusOnline   StreamStatus = "ONLINE"
	StatusOffline  StreamStatus = "OFFLINE"
	StatusError    StreamStatus = "ERROR"
)

// StreamHealth is the engine's current view of a stream's health (spec.md §3).
type StreamHealth struct {
	StreamID          string       `json:"stream_id"`
	Status            StreamStatus `json:"status"`
	Score             int          `json:"score"`
	Color             HealthColor  `json:"color"`
	Factors           map[string]string `json:"factors"`
	ContinuityErrors  int64        `json:"continuity_errors"`
	SyncErrors        int64        `json:"sync_errors"`
	TransportErrors   int64        `json:"transport_errors"`
	ManifestErrors    int64        `json:"manifest_errors"`
	RollingErrorRate  float64      `json:"rolling_error_rate"` // percent
	ActiveAlerts      []Alert      `json:"active_alerts"`
	LastUpdated       time.Time    `json:"last_updated"`
}
