// Package monitor implements the Monitor Engine: the per-stream pipeline
// supervisor that ties the manifest parser, TS analyzer, health scorer,
// alert engine, event bus and log store together (spec.md §4.1).
package monitor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/alerts"
	"github.com/kvkushal/amagi-hls-monitor/internal/config"
	"github.com/kvkushal/amagi-hls-monitor/internal/eventbus"
	"github.com/kvkushal/amagi-hls-monitor/internal/health"
	"github.com/kvkushal/amagi-hls-monitor/internal/httpclient"
	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
	"github.com/kvkushal/amagi-hls-monitor/internal/logstore"
	"github.com/kvkushal/amagi-hls-monitor/internal/manifest"
	"github.com/kvkushal/amagi-hls-monitor/internal/metrics"
	"github.com/kvkushal/amagi-hls-monitor/internal/models"
	"github.com/kvkushal/amagi-hls-monitor/internal/probe"
	"github.com/kvkushal/amagi-hls-monitor/internal/thumbnail"
	"github.com/kvkushal/amagi-hls-monitor/internal/tsanalyzer"
)

// streamState is the Monitor Engine's exclusive, mutable per-stream
// state (spec.md §3 "Ownership"). Every field is touched only while
// holding Engine.mu or the per-stream lock embedded here.
type streamState struct {
	mu sync.Mutex

	config      models.StreamConfig
	currentURL  string
	status      models.StreamStatus
	seen        map[string]struct{}
	seenOrder   []string // FIFO for bounding seen, per EngineConfig.SeenSetLimit

	// currentBandwidth/currentResolution are the selected variant's
	// BANDWIDTH/RESOLUTION attributes, captured at variant-selection time
	// so processSegment can stamp every SegmentMetrics with its declared
	// bitrate/resolution (spec.md §3).
	currentBandwidth  int64
	currentResolution string

	history         []models.SegmentMetrics
	loudnessHistory []models.LoudnessSample
	scte35History   []models.SCTE35Event
	sequence        int64
	lastHealth      models.HealthScore
	manifestErrs    int64

	continuityErrors int64
	syncErrors       int64
	transportErrors  int64
	segmentAttempts  int64
	segmentFailures  int64

	analyzer *tsanalyzer.Analyzer
	breaker  *httpclient.CircuitBreaker

	inFlight chan struct{} // bounded semaphore, size = MaxInFlightDownloads

	cancel context.CancelFunc
}

// Engine is the composed Monitor Engine: the single owner of all
// per-stream state, wired to its collaborators (spec.md §9: "re-architect
// as a single composed Engine value carrying its collaborators").
type Engine struct {
	cfg    config.EngineConfig
	log    logging.Logger
	client *http.Client

	alerts         *alerts.Engine
	bus            *eventbus.Bus
	logs           *logstore.Store
	thumbs         *thumbnail.Registry
	durProbe       *probe.DurationProber
	loudProbe      *probe.LoudnessProber
	frameExtractor *thumbnail.FrameExtractor

	mu      sync.RWMutex
	streams map[string]*streamState

	segmentsProcessed int64
}

// New wires a Monitor Engine from its collaborators.
func New(cfg config.EngineConfig, log logging.Logger, client *http.Client, alertEngine *alerts.Engine, bus *eventbus.Bus, logs *logstore.Store, thumbs *thumbnail.Registry, durProbe *probe.DurationProber, loudProbe *probe.LoudnessProber, frameExtractor *thumbnail.FrameExtractor) *Engine {
	if client == nil {
		client = &http.Client{}
	}
	return &Engine{
		cfg:            cfg,
		log:            log,
		client:         client,
		alerts:         alertEngine,
		bus:            bus,
		logs:           logs,
		thumbs:         thumbs,
		durProbe:       durProbe,
		loudProbe:      loudProbe,
		frameExtractor: frameExtractor,
		streams:        make(map[string]*streamState),
	}
}

// AddStream registers a stream and spawns its supervised pipeline.
// Idempotent on a duplicate ID: logs a warning and returns without
// disturbing the existing pipeline (spec.md §4.1).
func (e *Engine) AddStream(cfg models.StreamConfig) {
	e.mu.Lock()
	if _, exists := e.streams[cfg.ID]; exists {
		e.mu.Unlock()
		e.warnf("AddStream called for already-registered stream", cfg.ID)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &streamState{
		config:     cfg,
		currentURL: cfg.ManifestURL,
		status:     models.StatusStarting,
		seen:       make(map[string]struct{}),
		analyzer:   tsanalyzer.New(),
		breaker:    httpclient.NewCircuitBreaker(httpclient.DefaultCircuitBreakerConfig()),
		inFlight:   make(chan struct{}, e.cfg.MaxInFlightDownloads),
		cancel:     cancel,
	}
	e.streams[cfg.ID] = st
	e.mu.Unlock()

	e.publish(cfg.ID, models.EventStreamAdded, map[string]interface{}{"name": cfg.Name, "manifest_url": cfg.ManifestURL})

	go e.runPipeline(ctx, st)
}

// RemoveStream cancels the stream's pipeline without awaiting in-flight
// work, and evicts every keyed registry entry (spec.md §4.1, §3
// "Destruction of a stream is atomic").
func (e *Engine) RemoveStream(id string) {
	e.mu.Lock()
	st, ok := e.streams[id]
	if ok {
		delete(e.streams, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	st.cancel()
	e.alerts.RemoveStream(id)
	e.thumbs.RemoveStream(id)
	e.bus.RemoveStream(id)
	e.publish(id, models.EventStreamRemoved, nil)
}

// GetHealth returns a read-only snapshot of a stream's current health.
func (e *Engine) GetHealth(id string) (models.StreamHealth, bool) {
	st := e.streamFor(id)
	if st == nil {
		return models.StreamHealth{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	active := e.alerts.ActiveAlerts(id)
	return models.StreamHealth{
		StreamID:         id,
		Status:           st.status,
		Score:            st.lastHealth.Score,
		Color:            st.lastHealth.Color,
		Factors:          st.lastHealth.Factors,
		ContinuityErrors: st.continuityErrors,
		SyncErrors:       st.syncErrors,
		TransportErrors:  st.transportErrors,
		ManifestErrors:   st.manifestErrs,
		RollingErrorRate: segmentErrorRate(st.segmentAttempts, st.segmentFailures),
		ActiveAlerts:     active,
		LastUpdated:      time.Now().UTC(),
	}, true
}

// GetMetricsHistory returns up to limit of a stream's most recent
// segment metrics, newest first. limit<=0 returns the full history.
func (e *Engine) GetMetricsHistory(id string, limit int) ([]models.SegmentMetrics, bool) {
	st := e.streamFor(id)
	if st == nil {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.SegmentMetrics, len(st.history))
	copy(out, st.history)
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber > out[j].SequenceNumber })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, true
}

// GetLoudnessHistory returns up to limit of a stream's most recent
// loudness samples, newest first. limit<=0 returns the full history.
func (e *Engine) GetLoudnessHistory(id string, limit int) ([]models.LoudnessSample, bool) {
	st := e.streamFor(id)
	if st == nil {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.LoudnessSample, len(st.loudnessHistory))
	copy(out, st.loudnessHistory)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, true
}

// GetSCTE35History returns up to limit of a stream's most recent
// SCTE-35 events, newest first. limit<=0 returns the full history.
func (e *Engine) GetSCTE35History(id string, limit int) ([]models.SCTE35Event, bool) {
	st := e.streamFor(id)
	if st == nil {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	out := make([]models.SCTE35Event, len(st.scte35History))
	copy(out, st.scte35History)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, true
}

// StreamIDs returns the IDs of every currently registered stream.
func (e *Engine) StreamIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.streams))
	for id := range e.streams {
		ids = append(ids, id)
	}
	return ids
}

// SegmentsProcessedTotal returns the running count of segment downloads
// attempted across every stream, for the ambient Prometheus counter.
func (e *Engine) SegmentsProcessedTotal() int64 {
	return atomic.LoadInt64(&e.segmentsProcessed)
}

func (e *Engine) streamFor(id string) *streamState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.streams[id]
}

// runPipeline is the per-stream supervisor loop (spec.md §4.1 "Pipeline
// loop").
func (e *Engine) runPipeline(ctx context.Context, st *streamState) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := e.fetchAndParse(ctx, st)
		if err != nil {
			st.mu.Lock()
			st.status = models.StatusError
			st.manifestErrs++
			st.mu.Unlock()
			e.publish(st.config.ID, models.EventError, map[string]interface{}{"error": err.Error(), "stage": "manifest_fetch"})
			if !sleepOrDone(ctx, e.cfg.PollInterval) {
				return
			}
			continue
		}

		for _, marker := range result.AdMarkers {
			e.publish(st.config.ID, models.EventAdDetected, map[string]interface{}{"marker": marker})
		}

		if result.IsMasterPlaylist() {
			variant, ok := manifest.SelectVariant(result.Variants)
			if ok {
				st.mu.Lock()
				st.currentURL = variant.URI
				st.currentBandwidth = variant.Bandwidth
				st.currentResolution = variant.Resolution
				st.mu.Unlock()
				e.publish(st.config.ID, models.EventVariantSelected, map[string]interface{}{
					"uri": variant.URI, "bandwidth": variant.Bandwidth, "resolution": variant.Resolution,
				})
			}
			// Immediately re-iterate against the selected variant's
			// media playlist, no sleep (spec.md §4.1 step 3).
			continue
		}

		st.mu.Lock()
		st.status = models.StatusOnline
		newURIs := e.diffSeen(st, result.Segments)
		st.mu.Unlock()

		for _, uri := range newURIs {
			go e.processSegment(ctx, st, uri)
		}

		e.publish(st.config.ID, models.EventManifestUpdated, map[string]interface{}{
			"total_segments": len(result.Segments),
			"new_segments":   len(newURIs),
		})

		if !sleepOrDone(ctx, e.cfg.PollInterval) {
			return
		}
	}
}

func (e *Engine) fetchAndParse(ctx context.Context, st *streamState) (manifest.Result, error) {
	st.mu.Lock()
	target := st.currentURL
	st.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.ManifestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return manifest.Result{}, fmt.Errorf("build manifest request: %w", err)
	}

	retryCfg := httpclient.DefaultRetryConfig()
	retryCfg.CircuitBreaker = st.breaker
	resp, err := httpclient.DoWithRetry(fetchCtx, e.client, req, retryCfg)
	if err != nil {
		return manifest.Result{}, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return manifest.Result{}, fmt.Errorf("manifest fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return manifest.Result{}, fmt.Errorf("read manifest body: %w", err)
	}

	base, _ := url.Parse(target)
	return manifest.Parse(string(body), base), nil
}

// diffSeen returns segments not yet observed, inserting them into the
// stream's seen-set and bounding it to EngineConfig.SeenSetLimit entries
// FIFO (spec.md §9 open question: "choose an explicit bound").
func (e *Engine) diffSeen(st *streamState, segments []string) []string {
	var fresh []string
	for _, uri := range segments {
		if _, ok := st.seen[uri]; ok {
			continue
		}
		st.seen[uri] = struct{}{}
		st.seenOrder = append(st.seenOrder, uri)
		fresh = append(fresh, uri)
	}

	for e.cfg.SeenSetLimit > 0 && len(st.seenOrder) > e.cfg.SeenSetLimit {
		oldest := st.seenOrder[0]
		st.seenOrder = st.seenOrder[1:]
		delete(st.seen, oldest)
	}
	return fresh
}

// processSegment is the independent segment-processing task (spec.md
// §4.1 "Segment-processing task"). It tolerates the owning stream having
// been removed mid-flight by holding no reference to engine-wide state
// beyond what it captured at spawn time, per the stream's own st
// pointer (spec.md §5 "child tasks must tolerate missing state").
func (e *Engine) processSegment(ctx context.Context, st *streamState, uri string) {
	if cap(st.inFlight) > 0 {
		select {
		case st.inFlight <- struct{}{}:
			defer func() { <-st.inFlight }()
		case <-ctx.Done():
			return
		}
	}

	dlCtx, cancel := context.WithTimeout(ctx, e.cfg.SegmentTimeout)
	defer cancel()

	st.mu.Lock()
	st.segmentAttempts++
	st.mu.Unlock()
	atomic.AddInt64(&e.segmentsProcessed, 1)

	fail := func(err error) {
		st.mu.Lock()
		st.segmentFailures++
		st.mu.Unlock()
		e.publish(st.config.ID, models.EventError, map[string]interface{}{"error": err.Error(), "stage": "segment_download"})
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, uri, nil)
	if err != nil {
		fail(err)
		return
	}
	resp, err := e.client.Do(req)
	if err != nil {
		fail(err)
		return
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		fail(fmt.Errorf("segment download: unexpected status %d", resp.StatusCode))
		return
	}
	ttfb := time.Since(start)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	downloadTime := time.Since(start)
	if err != nil {
		fail(err)
		return
	}

	st.mu.Lock()
	seq := st.sequence
	st.sequence++
	st.mu.Unlock()

	filename := fmt.Sprintf("%s_%d.ts", st.config.ID, seq)
	segPath := filepath.Join(e.cfg.DataDir, "segments", filename)
	if err := os.MkdirAll(filepath.Dir(segPath), 0o755); err == nil {
		_ = os.WriteFile(segPath, body, 0o644)
	}

	duration := e.durProbe.Probe(ctx, segPath)

	st.mu.Lock()
	bandwidth, resolution := st.currentBandwidth, st.currentResolution
	st.mu.Unlock()

	sm := models.SegmentMetrics{
		SequenceNumber:  seq,
		URI:             uri,
		Filename:        filename,
		Resolution:      resolution,
		DeclaredBitrate: float64(bandwidth) / 1_000_000,
		ActualBitrate:   metrics.ActualBitrate(int64(len(body)), duration),
		Throughput:      metrics.Throughput(int64(len(body)), float64(downloadTime.Milliseconds())),
		Duration:        duration,
		TTFBMillis:      float64(ttfb.Milliseconds()),
		DownloadMillis:  float64(downloadTime.Milliseconds()),
		SizeBytes:       int64(len(body)),
		SizeMB:          float64(len(body)) / (1024 * 1024),
		Timestamp:       time.Now().UTC(),
	}

	st.mu.Lock()
	st.history = append(st.history, sm)
	if len(st.history) > e.cfg.MetricsHistoryLimit {
		st.history = st.history[len(st.history)-e.cfg.MetricsHistoryLimit:]
	}
	healthScore := e.recomputeHealth(st)
	st.mu.Unlock()

	st.mu.Lock()
	errRate := segmentErrorRate(st.segmentAttempts, st.segmentFailures)
	continuity := st.continuityErrors
	ratio := health.RollingDownloadRatio(meanThroughput(st.history, e.cfg.HealthWindow), meanBitrate(st.history, e.cfg.HealthWindow))
	ttfbAvg := meanTTFB(st.history, e.cfg.HealthWindow)
	st.mu.Unlock()

	e.alerts.Evaluate(st.config.ID, alerts.Inputs{
		Score:         healthScore.Score,
		ErrorRate:     errRate,
		Continuity:    continuity,
		TTFBAvg:       ttfbAvg,
		DownloadRatio: ratio,
	})

	go e.runAnalyzers(ctx, st, sm, segPath, body)

	e.publish(st.config.ID, models.EventSegmentDownloaded, map[string]interface{}{"segment": sm})
	if e.logs != nil {
		_ = e.logs.Write(models.Event{Type: models.EventSegmentDownloaded, StreamID: st.config.ID, Data: map[string]interface{}{"segment": sm}})
	}
}

// runAnalyzers fans out the three concurrent analyzer tasks for one
// segment: thumbnail, loudness, TS analysis (spec.md §4.1 step 5). Each
// failure is caught and logged; the segment remains counted as
// downloaded regardless (spec.md §4.1 "Failure semantics").
func (e *Engine) runAnalyzers(ctx context.Context, st *streamState, sm models.SegmentMetrics, segPath string, body []byte) {
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		defer e.recoverAnalyzer(st.config.ID, "thumbnail")
		e.runThumbnailAnalyzer(ctx, st, sm, segPath)
	}()

	go func() {
		defer wg.Done()
		defer e.recoverAnalyzer(st.config.ID, "loudness")
		if e.loudProbe == nil {
			return
		}
		result, ok := e.loudProbe.Probe(ctx, segPath)
		if ok {
			sample := models.LoudnessSample{
				Timestamp:       time.Now().UTC(),
				MomentaryLUFS:   result.MomentaryLUFS,
				ShortTermLUFS:   result.ShortTermLUFS,
				IntegratedLUFS:  result.IntegratedLUFS,
				RMSDB:           result.RMSDB,
				IsApproximation: result.IsApproximation,
			}
			st.mu.Lock()
			st.loudnessHistory = append(st.loudnessHistory, sample)
			if len(st.loudnessHistory) > e.cfg.LoudnessHistoryLimit {
				st.loudnessHistory = st.loudnessHistory[len(st.loudnessHistory)-e.cfg.LoudnessHistoryLimit:]
			}
			st.mu.Unlock()

			e.publish(st.config.ID, models.EventLoudnessData, map[string]interface{}{
				"momentary_lufs": result.MomentaryLUFS, "shortterm_lufs": result.ShortTermLUFS,
				"integrated_lufs": result.IntegratedLUFS, "rms_db": result.RMSDB, "is_approximation": result.IsApproximation,
			})
		}
	}()

	go func() {
		defer wg.Done()
		defer e.recoverAnalyzer(st.config.ID, "ts_analyzer")
		st.mu.Lock()
		tsMetrics := st.analyzer.Analyze(body)
		st.continuityErrors += tsMetrics.ContinuityErrors
		st.syncErrors += tsMetrics.SyncByteErrors
		st.transportErrors += tsMetrics.TransportErrors
		st.mu.Unlock()

		if len(tsMetrics.SCTE35PIDs) > 0 {
			now := time.Now().UTC()
			st.mu.Lock()
			for _, evt := range tsMetrics.SCTE35Events {
				st.scte35History = append(st.scte35History, models.SCTE35Event{
					Timestamp:         now,
					EventType:         "scte35_detected",
					SegmentSequence:   sm.SequenceNumber,
					SpliceCommandType: int(evt.SpliceCommandType),
				})
			}
			if len(st.scte35History) > e.cfg.SCTE35HistoryLimit {
				st.scte35History = st.scte35History[len(st.scte35History)-e.cfg.SCTE35HistoryLimit:]
			}
			st.mu.Unlock()

			e.publish(st.config.ID, models.EventSCTE35Detected, map[string]interface{}{
				"segment_sequence": sm.SequenceNumber, "pids": tsMetrics.SCTE35PIDs, "messages": tsMetrics.SCTE35Messages,
			})
		}
	}()

	wg.Wait()
}

// runThumbnailAnalyzer extracts a real frame from the downloaded segment
// when a frame extractor is configured, falling back to a placeholder
// image only on a nil extractor or an extraction failure (spec.md §4.1
// step 5 supplement: "placeholder generation is the failure-path
// fallback, not the default").
func (e *Engine) runThumbnailAnalyzer(ctx context.Context, st *streamState, sm models.SegmentMetrics, segPath string) {
	if e.thumbs == nil {
		return
	}
	thumbFile := fmt.Sprintf("%s_%d.jpg", st.config.ID, sm.SequenceNumber)

	isPlaceholder := true
	var frame []byte
	if e.frameExtractor != nil {
		if extracted, err := e.frameExtractor.Extract(ctx, segPath, sm.Duration/2); err == nil {
			frame = extracted
			isPlaceholder = false
		}
	}
	if frame == nil {
		placeholder, err := thumbnail.GeneratePlaceholder(sm.SequenceNumber)
		if err != nil {
			return
		}
		frame = placeholder
		isPlaceholder = true
	}

	dir := filepath.Join(e.cfg.DataDir, "thumbnails", st.config.ID)
	if err := os.MkdirAll(dir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(dir, thumbFile), frame, 0o644)
	}

	batch := e.thumbs.Record(st.config.ID, thumbnail.Entry{SequenceNumber: sm.SequenceNumber, Filename: thumbFile, IsPlaceholder: isPlaceholder})
	e.publish(st.config.ID, models.EventThumbnailGenerated, map[string]interface{}{"sequence_number": sm.SequenceNumber, "filename": thumbFile, "is_placeholder": isPlaceholder})

	if batch != nil {
		e.synthesizeSprite(st, batch)
	}
}

func (e *Engine) synthesizeSprite(st *streamState, batch []thumbnail.Entry) {
	dir := filepath.Join(e.cfg.DataDir, "thumbnails", st.config.ID)
	loader := func(entry thumbnail.Entry) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, entry.Filename))
	}
	data, index, err := thumbnail.ComposeSprite(batch, loader)
	if err != nil {
		return
	}
	spriteDir := filepath.Join(e.cfg.DataDir, "sprites")
	os.MkdirAll(spriteDir, 0o755)
	spriteFile := fmt.Sprintf("%s_%d.jpg", st.config.ID, time.Now().UTC().Unix())
	_ = os.WriteFile(filepath.Join(spriteDir, spriteFile), data, 0o644)

	e.publish(st.config.ID, models.EventSpriteGenerated, map[string]interface{}{"filename": spriteFile, "index": index})
}

func (e *Engine) recoverAnalyzer(streamID, name string) {
	if r := recover(); r != nil {
		e.publish(streamID, models.EventError, map[string]interface{}{"error": fmt.Sprintf("%v", r), "stage": name})
	}
}

// recomputeHealth computes the rolling inputs over the last HealthWindow
// segments and re-scores the stream (spec.md §4.4). Caller must hold
// st.mu.
func (e *Engine) recomputeHealth(st *streamState) models.HealthScore {
	ratio := health.RollingDownloadRatio(meanThroughput(st.history, e.cfg.HealthWindow), meanBitrate(st.history, e.cfg.HealthWindow))
	score := health.Score(health.Inputs{
		ErrorRate:        segmentErrorRate(st.segmentAttempts, st.segmentFailures),
		ContinuityErrors: st.continuityErrors,
		SyncErrors:       st.syncErrors,
		TransportErrors:  st.transportErrors,
		TTFBAvg:          meanTTFB(st.history, e.cfg.HealthWindow),
		DownloadRatio:    ratio,
		ManifestErrors:   st.manifestErrs,
	})
	st.lastHealth = score
	return score
}

func segmentErrorRate(attempts, failures int64) float64 {
	if attempts <= 0 {
		return 0
	}
	return float64(failures) / float64(attempts) * 100
}

func (e *Engine) publish(streamID, eventType string, data map[string]interface{}) {
	if e.bus != nil {
		_ = e.bus.Broadcast(streamID, models.Event{Type: eventType, StreamID: streamID, Data: data})
	}
	if e.logs != nil {
		_ = e.logs.Write(models.Event{Type: eventType, StreamID: streamID, Data: data})
	}
}

func (e *Engine) warnf(msg, streamID string) {
	if e.log == nil {
		return
	}
	e.log.WithFields(logging.Fields{"stream_id": streamID}).Warn(msg)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func windowed(history []models.SegmentMetrics, n int) []models.SegmentMetrics {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}

func meanTTFB(history []models.SegmentMetrics, window int) float64 {
	w := windowed(history, window)
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		sum += s.TTFBMillis
	}
	return sum / float64(len(w))
}

func meanThroughput(history []models.SegmentMetrics, window int) float64 {
	w := windowed(history, window)
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		sum += s.Throughput
	}
	return sum / float64(len(w))
}

func meanBitrate(history []models.SegmentMetrics, window int) float64 {
	w := windowed(history, window)
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, s := range w {
		sum += s.ActualBitrate
	}
	return sum / float64(len(w))
}
