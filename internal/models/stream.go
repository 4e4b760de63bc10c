// Package models holds the shared data types for the monitoring engine:
// stream configuration, segment/variant metrics, health, alerts and
// webhook configuration (spec.md §3).
package models

import "time"

// StreamConfig identifies a monitored stream and its manifest URL.
// Owned by the Monitor Engine for the stream's lifetime; created by the
// (out-of-scope) API façade.
type StreamConfig struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ManifestURL string    `json:"manifest_url"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	Enabled     bool      `json:"enabled"`
}

// VariantStream is one bitrate/resolution rendition listed in a master
// playlist (spec.md §3).
type VariantStream struct {
	URI        string  `json:"uri"`
	Resolution string  `json:"resolution,omitempty"`
	Bandwidth  int64   `json:"bandwidth"`
	Codecs     string  `json:"codecs,omitempty"`
	FrameRate  float64 `json:"frame_rate,omitempty"`
}

// SegmentMetrics is recorded for every successfully downloaded segment
// (spec.md §3). The invariant linking Size/Duration/DownloadTime to
// ActualBitrate/Throughput is enforced by internal/metrics, not here.
type SegmentMetrics struct {
	SequenceNumber  int64     `json:"sequence_number"`
	URI             string    `json:"uri"`
	Filename        string    `json:"filename"`
	Resolution      string    `json:"resolution,omitempty"`
	DeclaredBitrate float64   `json:"declared_bitrate"` // Mb/s, from the variant's BANDWIDTH
	ActualBitrate   float64   `json:"actual_bitrate"`   // Mb/s
	Throughput      float64   `json:"download_speed"`   // Mb/s
	Duration        float64   `json:"segment_duration"` // seconds
	TTFBMillis      float64   `json:"ttfb"`              // ms
	DownloadMillis  float64   `json:"download_time"`     // ms
	SizeBytes       int64     `json:"size_bytes"`
	SizeMB          float64   `json:"segment_size_mb"`
	Timestamp       time.Time `json:"timestamp"`
}

// AdMarker is an ad-insertion signal extracted from a manifest (spec.md §4.2).
type AdMarker struct {
	Type      string    `json:"type"` // "daterange", "cue-out", "cue-in", "bandwidth-reservation"
	ID        string    `json:"id,omitempty"`
	Class     string    `json:"class,omitempty"`
	StartDate string    `json:"start_date,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Bandwidth int64     `json:"bandwidth,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}
