package config

import "time"

// EngineConfig collects the tunables for the Monitor Engine and its
// supporting subsystems. Values are sourced from the environment with
// sane defaults, following the GetEnv*/RequireEnv convention in env.go.
type EngineConfig struct {
	// DataDir is the root directory for segments/, thumbnails/, sprites/,
	// logs/, streams.json and webhooks.json.
	DataDir string

	// PollInterval is how long the manifest loop sleeps between iterations
	// for a given stream (spec.md §4.1 step 7).
	PollInterval time.Duration

	// ManifestTimeout bounds each manifest fetch (spec.md §4.1 step 1).
	ManifestTimeout time.Duration

	// SegmentTimeout bounds each segment download.
	SegmentTimeout time.Duration

	// ProbeTimeout bounds external-tool invocations (duration/loudness probes).
	ProbeTimeout time.Duration

	// SeenSetLimit bounds the per-stream seen-segment-URI set (Open Question #2).
	// 0 means unbounded.
	SeenSetLimit int

	// MaxInFlightDownloads bounds concurrent segment downloads per stream
	// (Open Question #2). 0 means unbounded.
	MaxInFlightDownloads int

	// MetricsHistoryLimit is the ring-buffer size for segment metrics (spec.md §3).
	MetricsHistoryLimit int

	// LoudnessHistoryLimit is the ring-buffer size for loudness samples.
	LoudnessHistoryLimit int

	// SCTE35HistoryLimit is the ring-buffer size for SCTE-35 events.
	SCTE35HistoryLimit int

	// ThumbnailBatchSize is the number of thumbnails collected before a
	// sprite sheet is synthesized (spec.md §4.1 step 7).
	ThumbnailBatchSize int

	// ThumbnailRegistryLimit bounds on-disk thumbnails retained per stream.
	ThumbnailRegistryLimit int

	// HealthWindow is how many recent segments feed the rolling health inputs
	// (spec.md §4.4).
	HealthWindow int

	// LogCompressDays / LogDeleteDays drive log-store rotation (spec.md §4.7).
	LogCompressDays int
	LogDeleteDays   int
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataDir:                "data",
		PollInterval:           10 * time.Second,
		ManifestTimeout:        10 * time.Second,
		SegmentTimeout:         30 * time.Second,
		ProbeTimeout:           5 * time.Second,
		SeenSetLimit:           5000,
		MaxInFlightDownloads:   8,
		MetricsHistoryLimit:    500,
		LoudnessHistoryLimit:   200,
		SCTE35HistoryLimit:     100,
		ThumbnailBatchSize:     10,
		ThumbnailRegistryLimit: 50,
		HealthWindow:           20,
		LogCompressDays:        7,
		LogDeleteDays:          30,
	}
}

// LoadEngineConfigFromEnv overlays environment variables onto the defaults.
func LoadEngineConfigFromEnv() EngineConfig {
	c := DefaultEngineConfig()
	c.DataDir = GetEnv("BEACON_DATA_DIR", c.DataDir)
	c.PollInterval = time.Duration(GetEnvInt("BEACON_POLL_INTERVAL_SECONDS", int(c.PollInterval/time.Second))) * time.Second
	c.ManifestTimeout = time.Duration(GetEnvInt("BEACON_MANIFEST_TIMEOUT_SECONDS", int(c.ManifestTimeout/time.Second))) * time.Second
	c.SegmentTimeout = time.Duration(GetEnvInt("BEACON_SEGMENT_TIMEOUT_SECONDS", int(c.SegmentTimeout/time.Second))) * time.Second
	c.ProbeTimeout = time.Duration(GetEnvInt("BEACON_PROBE_TIMEOUT_SECONDS", int(c.ProbeTimeout/time.Second))) * time.Second
	c.SeenSetLimit = GetEnvInt("BEACON_SEEN_SET_LIMIT", c.SeenSetLimit)
	c.MaxInFlightDownloads = GetEnvInt("BEACON_MAX_INFLIGHT_DOWNLOADS", c.MaxInFlightDownloads)
	c.MetricsHistoryLimit = GetEnvInt("BEACON_METRICS_HISTORY_LIMIT", c.MetricsHistoryLimit)
	c.LoudnessHistoryLimit = GetEnvInt("BEACON_LOUDNESS_HISTORY_LIMIT", c.LoudnessHistoryLimit)
	c.SCTE35HistoryLimit = GetEnvInt("BEACON_SCTE35_HISTORY_LIMIT", c.SCTE35HistoryLimit)
	c.ThumbnailBatchSize = GetEnvInt("BEACON_THUMBNAIL_BATCH_SIZE", c.ThumbnailBatchSize)
	c.ThumbnailRegistryLimit = GetEnvInt("BEACON_THUMBNAIL_REGISTRY_LIMIT", c.ThumbnailRegistryLimit)
	c.HealthWindow = GetEnvInt("BEACON_HEALTH_WINDOW", c.HealthWindow)
	c.LogCompressDays = GetEnvInt("BEACON_LOG_COMPRESS_DAYS", c.LogCompressDays)
	c.LogDeleteDays = GetEnvInt("BEACON_LOG_DELETE_DAYS", c.LogDeleteDays)
	return c
}
