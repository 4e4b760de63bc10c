// Command beacon is the composition root wiring the Monitor Engine and
// its collaborators together, plus a thin HTTP surface demonstrating the
// contract spec.md §6 describes: a liveness endpoint, Prometheus metrics,
// and a WebSocket bridge onto the Event Bus. The CRUD/CSV/static-asset
// façade itself remains an out-of-process collaborator (SPEC_FULL.md §E).
package main

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kvkushal/amagi-hls-monitor/internal/alerts"
	"github.com/kvkushal/amagi-hls-monitor/internal/config"
	"github.com/kvkushal/amagi-hls-monitor/internal/eventbus"
	"github.com/kvkushal/amagi-hls-monitor/internal/httpserver"
	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
	"github.com/kvkushal/amagi-hls-monitor/internal/logstore"
	"github.com/kvkushal/amagi-hls-monitor/internal/models"
	"github.com/kvkushal/amagi-hls-monitor/internal/monitor"
	"github.com/kvkushal/amagi-hls-monitor/internal/probe"
	"github.com/kvkushal/amagi-hls-monitor/internal/thumbnail"
	"github.com/kvkushal/amagi-hls-monitor/internal/webhooks"
	"github.com/kvkushal/amagi-hls-monitor/internal/wsbridge"
)

func main() {
	logger := logging.NewLoggerWithService("beacon")
	config.LoadEnv(logger)

	cfg := config.LoadEngineConfigFromEnv()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.WithError(err).Fatal("failed to create data directory")
	}

	logs, err := logstore.New(filepath.Join(cfg.DataDir, "logs"), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open log store")
	}

	hooks, err := webhooks.New(filepath.Join(cfg.DataDir, "webhooks.json"), logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to load webhook config")
	}

	bus := eventbus.New()
	alertEngine := alerts.New(hooks)
	thumbs := thumbnail.NewRegistry(filepath.Join(cfg.DataDir, "thumbnails"), cfg.ThumbnailRegistryLimit, cfg.ThumbnailBatchSize)
	durProbe := probe.NewDurationProber(config.GetEnv("BEACON_DURATION_PROBE_BIN", "ffprobe"), cfg.ProbeTimeout)
	loudProbe := probe.NewLoudnessProber(config.GetEnv("BEACON_LOUDNESS_PROBE_BIN", "ffmpeg"), cfg.ProbeTimeout)
	frameExtractor := thumbnail.NewFrameExtractor(config.GetEnv("BEACON_THUMBNAIL_PROBE_BIN", "ffmpeg"), cfg.ProbeTimeout)

	client := &http.Client{Timeout: cfg.SegmentTimeout}
	engine := monitor.New(cfg, logger, client, alertEngine, bus, logs, thumbs, durProbe, loudProbe, frameExtractor)

	if seed := config.GetEnv("BEACON_SEED_MANIFEST_URL", ""); seed != "" {
		engine.AddStream(models.StreamConfig{
			ID:          config.GetEnv("BEACON_SEED_STREAM_ID", "seed"),
			Name:        "seed stream",
			ManifestURL: seed,
			Enabled:     true,
			CreatedAt:   time.Now().UTC(),
		})
	}

	go runRotation(logs, cfg, logger)

	metrics := httpserver.NewMetrics()
	bridge := wsbridge.NewBridge(bus, logger)

	router := httpserver.NewRouter(logger)
	router.GET("/ws/streams/:id", func(c *gin.Context) {
		bridge.ServeStream(c.Writer, c.Request, c.Param("id"))
	})
	router.GET("/api/streams/:id/health", func(c *gin.Context) {
		health, ok := engine.GetHealth(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		c.JSON(http.StatusOK, health)
	})

	go reportMetrics(engine, metrics)

	srvCfg := httpserver.DefaultConfig("beacon", "8090")
	if err := httpserver.Start(srvCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("HTTP server shutdown with error")
	}
}

func runRotation(logs *logstore.Store, cfg config.EngineConfig, logger logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		compressAfter := time.Duration(cfg.LogCompressDays) * 24 * time.Hour
		deleteAfter := time.Duration(cfg.LogDeleteDays) * 24 * time.Hour
		if err := logs.Rotate(time.Now().UTC(), compressAfter, deleteAfter); err != nil {
			logger.WithError(err).Warn("log rotation failed")
		}
	}
}

func reportMetrics(engine *monitor.Engine, metrics *httpserver.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastProcessed int64
	for range ticker.C {
		ids := engine.StreamIDs()
		metrics.ActiveStreams.Set(float64(len(ids)))

		var activeAlerts int
		for _, id := range ids {
			if health, ok := engine.GetHealth(id); ok {
				activeAlerts += len(health.ActiveAlerts)
			}
		}
		metrics.ActiveAlerts.Set(float64(activeAlerts))

		if processed := engine.SegmentsProcessedTotal(); processed > lastProcessed {
			metrics.SegmentsProcessed.Add(float64(processed - lastProcessed))
			lastProcessed = processed
		}
	}
}
