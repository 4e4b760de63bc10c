package logstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

var osStat = os.Stat

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	evt := models.Event{Type: models.EventSegmentDownloaded, StreamID: "s1", Timestamp: ts}
	if err := s.Write(evt); err != nil {
		t.Fatal(err)
	}

	events, err := s.ReadEvents(ts, ts, "s1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != models.EventSegmentDownloaded {
		t.Errorf("got type %q", events[0].Type)
	}
}

func TestWriteGoesToBothGlobalAndStreamLogs(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	s.Write(models.Event{Type: models.EventAlarm, StreamID: "s1", Timestamp: ts})

	global, err := s.ReadEvents(ts, ts, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(global) != 1 {
		t.Fatalf("expected the global log to contain 1 event, got %d", len(global))
	}

	perStream, err := s.ReadEvents(ts, ts, "s1", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(perStream) != 1 {
		t.Fatalf("expected the per-stream log to contain 1 event, got %d", len(perStream))
	}
}

func TestEventTypeFilter(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	s.Write(models.Event{Type: models.EventAlarm, StreamID: "s1", Timestamp: ts})
	s.Write(models.Event{Type: models.EventHealthUpdate, StreamID: "s1", Timestamp: ts})

	events, err := s.ReadEvents(ts, ts, "s1", models.EventAlarm, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != models.EventAlarm {
		t.Errorf("expected exactly 1 alarm event, got %+v", events)
	}
}

func TestMalformedLineIsSkipped(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	path := s.globalLogPath(ts.Format(dateLayout))
	if err := s.appendTo(path, []byte("not json\n")); err != nil {
		t.Fatal(err)
	}
	s.Write(models.Event{Type: models.EventAlarm, Timestamp: ts})

	events, err := s.ReadEvents(ts, ts, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the malformed line to be skipped, got %d events", len(events))
	}
}

func TestRotateCompressesAndDeletes(t *testing.T) {
	s := newTestStore(t)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 7, 20, 0, 0, 0, 0, time.UTC)
	s.Write(models.Event{Type: models.EventAlarm, Timestamp: old})
	s.Write(models.Event{Type: models.EventAlarm, Timestamp: recent})

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	if err := s.Rotate(now, 7*24*time.Hour, 180*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	for _, suffix := range []string{".log", ".log.gz"} {
		oldLog := filepath.Join(s.root, old.Format(dateLayout)+suffix)
		if _, err := osStat(oldLog); err == nil {
			t.Errorf("expected %s to be deleted past the retention age", oldLog)
		}
	}

	recentGz := filepath.Join(s.root, recent.Format(dateLayout)+".log.gz")
	if _, err := osStat(recentGz); err != nil {
		t.Errorf("expected %s to exist after compression: %v", recentGz, err)
	}

	events, err := s.ReadEvents(recent, recent, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the compressed log to still be readable, got %d events", len(events))
	}
}

func TestRotateDeletesVeryOldLogs(t *testing.T) {
	s := newTestStore(t)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Write(models.Event{Type: models.EventAlarm, Timestamp: old})

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	if err := s.Rotate(now, 7*24*time.Hour, 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	events, err := s.ReadEvents(old, old, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected the deleted day's log to be gone, got %d events", len(events))
	}
}

func TestRotatePrunesEmptyStreamDirs(t *testing.T) {
	s := newTestStore(t)
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Write(models.Event{Type: models.EventAlarm, StreamID: "s1", Timestamp: old})

	streamDir := filepath.Join(s.root, "s1")
	if _, err := osStat(streamDir); err != nil {
		t.Fatalf("expected the per-stream directory to exist before rotation: %v", err)
	}

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	if err := s.Rotate(now, 7*24*time.Hour, 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	if _, err := osStat(streamDir); !os.IsNotExist(err) {
		t.Errorf("expected the now-empty per-stream directory to be pruned, stat err = %v", err)
	}
}
