package exportcsv

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

func TestWriteMetricsProducesHeaderPlusOneRowPerSegment(t *testing.T) {
	rows := []models.SegmentMetrics{
		{SequenceNumber: 0, Filename: "s_0.ts", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{SequenceNumber: 1, Filename: "s_1.ts", Timestamp: time.Date(2026, 1, 1, 0, 0, 6, 0, time.UTC)},
		{SequenceNumber: 2, Filename: "s_2.ts", Timestamp: time.Date(2026, 1, 1, 0, 0, 12, 0, time.UTC)},
	}

	var buf bytes.Buffer
	if err := WriteMetrics(&buf, rows); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines (header + 3 rows), got %d: %v", len(lines), lines)
	}
	if lines[0] != strings.Join(MetricsHeader(), ",") {
		t.Errorf("unexpected header: %s", lines[0])
	}
}

func TestMetricsHeaderColumnOrder(t *testing.T) {
	want := []string{"timestamp", "sequence_number", "segment_duration", "segment_size_mb",
		"actual_bitrate", "declared_bitrate", "download_time", "download_speed", "ttfb",
		"resolution", "filename"}
	got := MetricsHeader()
	if len(got) != len(want) {
		t.Fatalf("header length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAlertRowFieldsFromMetadata(t *testing.T) {
	a := models.Alert{
		ID:        "1-1",
		Type:      models.AlertHighErrorRate,
		Severity:  models.SeverityError,
		Message:   "error rate 7.50% is high",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:  map[string]interface{}{"error_rate": 7.5},
	}

	row := AlertRow(a)
	if row[5] != "5.000" {
		t.Errorf("threshold_value = %q, want 5.000", row[5])
	}
	if row[6] != "7.5" {
		t.Errorf("actual_value = %q, want 7.5", row[6])
	}
	if row[7] != "false" || row[8] != "" {
		t.Errorf("unresolved alert should have resolved=false and empty resolved_at, got %q/%q", row[7], row[8])
	}
}

func TestAlertRowResolvedAt(t *testing.T) {
	resolvedAt := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	a := models.Alert{Type: models.AlertHealthCritical, Resolved: true, ResolvedAt: &resolvedAt}
	row := AlertRow(a)
	if row[7] != "true" {
		t.Errorf("resolved = %q, want true", row[7])
	}
	if !strings.HasPrefix(row[8], "2026-01-01T01:00:00") {
		t.Errorf("resolved_at = %q", row[8])
	}
}

func TestWriteSCTE35RowOrder(t *testing.T) {
	rows := []models.SCTE35Event{
		{Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), EventType: "scte35_detected", SegmentSequence: 3, SpliceCommandType: 5},
	}
	var buf bytes.Buffer
	if err := WriteSCTE35(&buf, rows); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "scte35_detected") || !strings.Contains(lines[1], ",3,") {
		t.Errorf("unexpected scte35 row: %s", lines[1])
	}
}

func TestWriteLoudnessApproximationFlag(t *testing.T) {
	rows := []models.LoudnessSample{
		{Timestamp: time.Now().UTC(), RMSDB: -14.2, IsApproximation: true},
	}
	var buf bytes.Buffer
	if err := WriteLoudness(&buf, rows); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "true") {
		t.Errorf("expected is_approximation=true in output, got: %s", buf.String())
	}
}
