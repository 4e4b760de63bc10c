// Package httpserver is the thin HTTP composition layer for cmd/beacon:
// a liveness endpoint, a Prometheus /metrics endpoint, and the graceful
// start/shutdown shape common across the corpus's services. It does not
// implement the CRUD/CSV/static-asset façade described in spec.md §6 —
// that remains an out-of-process collaborator.
package httpserver

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvkushal/amagi-hls-monitor/internal/config"
	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
)

// Config mirrors pkg/server.Config's shape.
type Config struct {
	Port         string
	ServiceName  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane HTTP timeouts for the given service/port.
func DefaultConfig(serviceName, defaultPort string) Config {
	return Config{
		Port:         config.GetEnv("PORT", defaultPort),
		ServiceName:  serviceName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Metrics collects the Prometheus gauges/counters cmd/beacon exposes on
// the engine's behalf (spec.md's core has no metrics surface of its own;
// this is the ambient observability stack every teacher service carries).
type Metrics struct {
	ActiveStreams     prometheus.Gauge
	ActiveAlerts      prometheus.Gauge
	SegmentsProcessed prometheus.Counter
}

// NewMetrics registers beacon_* metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_active_streams",
			Help: "Number of streams currently monitored.",
		}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beacon_active_alerts",
			Help: "Number of currently unresolved alerts across all streams.",
		}),
		SegmentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_segments_processed_total",
			Help: "Total segment downloads attempted across all streams.",
		}),
	}
	prometheus.MustRegister(m.ActiveStreams, m.ActiveAlerts, m.SegmentsProcessed)
	return m
}

// NewRouter builds the minimal Gin router: liveness and Prometheus
// metrics. Callers attach additional routes (e.g. the WebSocket bridge)
// before calling Start.
func NewRouter(logger logging.Logger) *gin.Engine {
	if config.GetEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Start runs router with graceful shutdown on SIGINT/SIGTERM, following
// pkg/server.Start's shape.
func Start(cfg Config, router *gin.Engine, logger logging.Logger) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		if logger != nil {
			logger.WithFields(logging.Fields{"port": cfg.Port, "service": cfg.ServiceName}).Info("starting HTTP server")
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.WithError(err).Fatal("HTTP server failed")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if logger != nil {
		logger.WithField("service", cfg.ServiceName).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
