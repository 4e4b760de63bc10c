package monitor

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/alerts"
	"github.com/kvkushal/amagi-hls-monitor/internal/config"
	"github.com/kvkushal/amagi-hls-monitor/internal/eventbus"
	"github.com/kvkushal/amagi-hls-monitor/internal/logstore"
	"github.com/kvkushal/amagi-hls-monitor/internal/models"
	"github.com/kvkushal/amagi-hls-monitor/internal/probe"
	"github.com/kvkushal/amagi-hls-monitor/internal/thumbnail"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=640x360
/low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1920x1080
/high.m3u8
`

func mediaPlaylist(seq int) string {
	return fmt.Sprintf("#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:%d\n#EXTINF:6.0,\n/seg%d.ts\n", seq, seq)
}

func newTestEngine(t *testing.T, handler http.Handler) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)

	dir := t.TempDir()
	cfg := config.EngineConfig{
		DataDir:              dir,
		PollInterval:         20 * time.Millisecond,
		ManifestTimeout:      time.Second,
		SegmentTimeout:       time.Second,
		ProbeTimeout:         time.Second,
		SeenSetLimit:         100,
		MaxInFlightDownloads: 4,
		MetricsHistoryLimit:  50,
		HealthWindow:         20,
		ThumbnailBatchSize:   100,
	}

	logs, err := logstore.New(filepath.Join(dir, "logs"), nil)
	if err != nil {
		t.Fatal(err)
	}
	bus := eventbus.New()
	alertEngine := alerts.New(nil)
	thumbs := thumbnail.NewRegistry(filepath.Join(dir, "thumbnails"), 50, 100)
	durProbe := probe.NewDurationProber("definitely-not-a-real-binary", 100*time.Millisecond)

	e := New(cfg, nil, srv.Client(), alertEngine, bus, logs, thumbs, durProbe, nil, nil)
	return e, srv
}

func TestVariantHopSelectsHighestBandwidth(t *testing.T) {
	var selectedPath atomic.Value
	selectedPath.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	})
	mux.HandleFunc("/high.m3u8", func(w http.ResponseWriter, r *http.Request) {
		selectedPath.Store(r.URL.Path)
		w.Write([]byte(mediaPlaylist(0)))
	})
	mux.HandleFunc("/low.m3u8", func(w http.ResponseWriter, r *http.Request) {
		selectedPath.Store(r.URL.Path)
		w.Write([]byte(mediaPlaylist(0)))
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188))
	})

	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	sub := eventbus.NewSubscriber("test")
	e.bus.Connect("s1", sub)

	e.AddStream(models.StreamConfig{ID: "s1", Name: "Test", ManifestURL: srv.URL + "/master.m3u8", Enabled: true})
	defer e.RemoveStream("s1")

	deadline := time.Now().Add(2 * time.Second)
	sawVariantSelected := false
	for time.Now().Before(deadline) {
		select {
		case data := <-sub.SendCh:
			if containsEventType(data, models.EventVariantSelected) {
				sawVariantSelected = true
			}
		case <-time.After(50 * time.Millisecond):
		}
		if sawVariantSelected && selectedPath.Load().(string) == "/high.m3u8" {
			break
		}
	}

	if !sawVariantSelected {
		t.Fatal("expected a variant_selected event")
	}
	if selectedPath.Load().(string) != "/high.m3u8" {
		t.Errorf("expected the engine to fetch the high-bandwidth variant, got %v", selectedPath.Load())
	}
}

func TestSegmentMetricsCarryTheSelectedVariantsDeclaredBitrateAndResolution(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(masterPlaylist))
	})
	mux.HandleFunc("/high.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaPlaylist(0)))
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188))
	})

	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	e.AddStream(models.StreamConfig{ID: "s1", Name: "Test", ManifestURL: srv.URL + "/master.m3u8", Enabled: true})
	defer e.RemoveStream("s1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		history, ok := e.GetMetricsHistory("s1", 0)
		if ok && len(history) > 0 {
			if history[0].Resolution != "1920x1080" {
				t.Errorf("expected resolution 1920x1080 from the selected high-bandwidth variant, got %q", history[0].Resolution)
			}
			if history[0].DeclaredBitrate != 3 {
				t.Errorf("expected declared_bitrate 3 (Mb/s) from BANDWIDTH=3000000, got %v", history[0].DeclaredBitrate)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected at least one segment to be recorded")
}

func containsEventType(data []byte, eventType string) bool {
	return string(data) != "" && bytesContains(data, []byte(`"event_type":"`+eventType+`"`))
}

func bytesContains(haystack, needle []byte) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func TestAddStreamIsIdempotentOnDuplicateID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	cfg := models.StreamConfig{ID: "dup", ManifestURL: srv.URL + "/x.m3u8"}
	e.AddStream(cfg)
	e.AddStream(cfg) // should be a no-op, not panic or replace state
	defer e.RemoveStream("dup")

	e.mu.RLock()
	count := len(e.streams)
	e.mu.RUnlock()
	if count != 1 {
		t.Errorf("expected exactly 1 registered stream, got %d", count)
	}
}

func TestRemoveStreamEvictsAllRegistries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	e.AddStream(models.StreamConfig{ID: "s1", ManifestURL: srv.URL + "/x.m3u8"})
	time.Sleep(30 * time.Millisecond)
	e.RemoveStream("s1")

	if _, ok := e.GetHealth("s1"); ok {
		t.Error("expected GetHealth to report the stream gone after RemoveStream")
	}
	if len(e.alerts.ActiveAlerts("s1")) != 0 {
		t.Error("expected the alert engine to have no state for the removed stream")
	}
	if e.bus.SubscriberCount("s1") != 0 {
		t.Error("expected the event bus to have no subscribers for the removed stream")
	}
}

func TestSegmentDownloadErrorDoesNotStopPipeline(t *testing.T) {
	var manifestHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&manifestHits, 1)
		w.Write([]byte(mediaPlaylist(int(n))))
	})
	mux.HandleFunc("/seg1.ts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/seg2.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188))
	})

	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	e.AddStream(models.StreamConfig{ID: "s1", ManifestURL: srv.URL + "/master.m3u8"})
	defer e.RemoveStream("s1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&manifestHits) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&manifestHits) < 2 {
		t.Fatal("expected the pipeline to keep polling after a segment download error")
	}
}

func TestStreamIDsReflectsRegisteredStreams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	if ids := e.StreamIDs(); len(ids) != 0 {
		t.Fatalf("expected no streams registered yet, got %v", ids)
	}

	e.AddStream(models.StreamConfig{ID: "a", ManifestURL: srv.URL + "/x.m3u8"})
	e.AddStream(models.StreamConfig{ID: "b", ManifestURL: srv.URL + "/y.m3u8"})
	defer e.RemoveStream("a")
	defer e.RemoveStream("b")

	ids := e.StreamIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 registered streams, got %v", ids)
	}
}

func TestSegmentsProcessedTotalCountsAttempts(t *testing.T) {
	var manifestHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&manifestHits, 1)
		w.Write([]byte(mediaPlaylist(int(n))))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188))
	})

	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	e.AddStream(models.StreamConfig{ID: "s1", ManifestURL: srv.URL + "/master.m3u8"})
	defer e.RemoveStream("s1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.SegmentsProcessedTotal() > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if e.SegmentsProcessedTotal() == 0 {
		t.Fatal("expected at least one segment download attempt to be counted")
	}
}

func TestLoudnessAndSCTE35HistoryStartEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	e, srv := newTestEngine(t, mux)
	defer srv.Close()

	e.AddStream(models.StreamConfig{ID: "s1", ManifestURL: srv.URL + "/x.m3u8"})
	defer e.RemoveStream("s1")

	if loud, ok := e.GetLoudnessHistory("s1", 0); !ok || len(loud) != 0 {
		t.Errorf("expected an empty loudness history for a fresh stream, got %v ok=%v", loud, ok)
	}
	if scte, ok := e.GetSCTE35History("s1", 0); !ok || len(scte) != 0 {
		t.Errorf("expected an empty SCTE-35 history for a fresh stream, got %v ok=%v", scte, ok)
	}

	if _, ok := e.GetLoudnessHistory("missing", 0); ok {
		t.Error("expected GetLoudnessHistory to report false for an unknown stream")
	}
	if _, ok := e.GetSCTE35History("missing", 0); ok {
		t.Error("expected GetSCTE35History to report false for an unknown stream")
	}
}

func TestThumbnailAnalyzerFallsBackToPlaceholderOnExtractionFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaPlaylist(0)))
	})
	mux.HandleFunc("/seg0.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 188))
	})

	e, srv := newTestEngine(t, mux)
	defer srv.Close()
	e.frameExtractor = thumbnail.NewFrameExtractor("definitely-not-a-real-binary-xyz", 100*time.Millisecond)

	e.AddStream(models.StreamConfig{ID: "s1", Name: "Test", ManifestURL: srv.URL + "/master.m3u8", Enabled: true})
	defer e.RemoveStream("s1")

	thumbPath := filepath.Join(e.cfg.DataDir, "thumbnails", "s1", "s1_0.jpg")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(thumbPath); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected a placeholder thumbnail to be written to %s even though extraction fails", thumbPath)
}
