// Package exportcsv builds the four CSV exports named in spec.md §6 as
// pure row-building functions, so the (out-of-scope) HTTP façade has a
// ready-made, tested building block for GET
// /api/export/{id}/{metrics|alerts|scte35|loudness}.csv.
package exportcsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

// alertThresholds mirrors the raise thresholds in internal/alerts, used
// only to label the threshold_value column of the alerts export — it is
// not fed back into any alerting decision.
var alertThresholds = map[models.AlertType]float64{
	models.AlertHealthCritical:  40,
	models.AlertHealthDegraded:  60,
	models.AlertHighErrorRate:   5,
	models.AlertContinuityError: 20,
	models.AlertHighTTFB:        1000,
	models.AlertSlowDownload:    0.5,
}

// alertMetadataKey maps an alert type to the metadata key internal/alerts
// populates with the value that triggered it (the alerts export's
// actual_value column).
var alertMetadataKey = map[models.AlertType]string{
	models.AlertHealthCritical:  "score",
	models.AlertHealthDegraded:  "score",
	models.AlertHighErrorRate:   "error_rate",
	models.AlertContinuityError: "continuity_errors",
	models.AlertHighTTFB:        "ttfb_avg",
	models.AlertSlowDownload:    "download_ratio",
}

// MetricsHeader is the metrics.csv header row (spec.md §6).
func MetricsHeader() []string {
	return []string{"timestamp", "sequence_number", "segment_duration", "segment_size_mb",
		"actual_bitrate", "declared_bitrate", "download_time", "download_speed", "ttfb",
		"resolution", "filename"}
}

// MetricsRow renders one SegmentMetrics as a metrics.csv data row.
func MetricsRow(m models.SegmentMetrics) []string {
	return []string{
		m.Timestamp.UTC().Format(timeLayout),
		strconv.FormatInt(m.SequenceNumber, 10),
		formatFloat(m.Duration),
		formatFloat(m.SizeMB),
		formatFloat(m.ActualBitrate),
		formatFloat(m.DeclaredBitrate),
		formatFloat(m.DownloadMillis),
		formatFloat(m.Throughput),
		formatFloat(m.TTFBMillis),
		m.Resolution,
		m.Filename,
	}
}

// WriteMetrics writes the metrics.csv header followed by one row per
// entry in rows, in the order given (spec.md §8 scenario 6: "3 recorded
// segments -> exactly 4 lines").
func WriteMetrics(w io.Writer, rows []models.SegmentMetrics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MetricsHeader()); err != nil {
		return fmt.Errorf("exportcsv: write metrics header: %w", err)
	}
	for _, m := range rows {
		if err := cw.Write(MetricsRow(m)); err != nil {
			return fmt.Errorf("exportcsv: write metrics row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// AlertsHeader is the alerts.csv header row (spec.md §6).
func AlertsHeader() []string {
	return []string{"id", "timestamp", "alert_type", "severity", "message",
		"threshold_value", "actual_value", "resolved", "resolved_at", "acknowledged"}
}

// AlertRow renders one Alert as an alerts.csv data row.
func AlertRow(a models.Alert) []string {
	threshold := ""
	if t, ok := alertThresholds[a.Type]; ok {
		threshold = formatFloat(t)
	}

	actual := ""
	if key, ok := alertMetadataKey[a.Type]; ok {
		if v, present := a.Metadata[key]; present {
			actual = fmt.Sprintf("%v", v)
		}
	}

	resolvedAt := ""
	if a.ResolvedAt != nil {
		resolvedAt = a.ResolvedAt.UTC().Format(timeLayout)
	}

	return []string{
		a.ID,
		a.CreatedAt.UTC().Format(timeLayout),
		string(a.Type),
		string(a.Severity),
		a.Message,
		threshold,
		actual,
		strconv.FormatBool(a.Resolved),
		resolvedAt,
		strconv.FormatBool(a.Acknowledged),
	}
}

// WriteAlerts writes the alerts.csv header followed by one row per entry
// in rows.
func WriteAlerts(w io.Writer, rows []models.Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AlertsHeader()); err != nil {
		return fmt.Errorf("exportcsv: write alerts header: %w", err)
	}
	for _, a := range rows {
		if err := cw.Write(AlertRow(a)); err != nil {
			return fmt.Errorf("exportcsv: write alerts row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SCTE35Header is the scte35.csv header row (spec.md §6).
func SCTE35Header() []string {
	return []string{"timestamp", "event_type", "segment_sequence", "duration", "splice_command_type"}
}

// SCTE35Row renders one SCTE35Event as a scte35.csv data row.
func SCTE35Row(e models.SCTE35Event) []string {
	return []string{
		e.Timestamp.UTC().Format(timeLayout),
		e.EventType,
		strconv.FormatInt(e.SegmentSequence, 10),
		formatFloat(e.Duration),
		strconv.Itoa(e.SpliceCommandType),
	}
}

// WriteSCTE35 writes the scte35.csv header followed by one row per entry
// in rows.
func WriteSCTE35(w io.Writer, rows []models.SCTE35Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SCTE35Header()); err != nil {
		return fmt.Errorf("exportcsv: write scte35 header: %w", err)
	}
	for _, e := range rows {
		if err := cw.Write(SCTE35Row(e)); err != nil {
			return fmt.Errorf("exportcsv: write scte35 row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoudnessHeader is the loudness.csv header row (spec.md §6).
func LoudnessHeader() []string {
	return []string{"timestamp", "momentary_lufs", "shortterm_lufs", "integrated_lufs", "rms_db", "is_approximation"}
}

// LoudnessRow renders one LoudnessSample as a loudness.csv data row.
func LoudnessRow(s models.LoudnessSample) []string {
	return []string{
		s.Timestamp.UTC().Format(timeLayout),
		formatFloat(s.MomentaryLUFS),
		formatFloat(s.ShortTermLUFS),
		formatFloat(s.IntegratedLUFS),
		formatFloat(s.RMSDB),
		strconv.FormatBool(s.IsApproximation),
	}
}

// WriteLoudness writes the loudness.csv header followed by one row per
// entry in rows.
func WriteLoudness(w io.Writer, rows []models.LoudnessSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LoudnessHeader()); err != nil {
		return fmt.Errorf("exportcsv: write loudness header: %w", err)
	}
	for _, s := range rows {
		if err := cw.Write(LoudnessRow(s)); err != nil {
			return fmt.Errorf("exportcsv: write loudness row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
