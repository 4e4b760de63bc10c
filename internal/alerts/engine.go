// Package alerts implements the threshold hysteresis state machines
// described in spec.md §4.5: one Alert per (stream, alert_type), raised,
// deduplicated, auto-resolved, and fanned out to webhooks.
package alerts

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

// WebhookNotifier is the fire-and-forget collaborator notified on every
// alert raise (spec.md §4.5: "emit a webhook: alert_raised event
// asynchronously"). The Engine does not retry or block on it.
type WebhookNotifier interface {
	SendEvent(eventType string, payload interface{})
}

// Inputs are the per-stream rolling values that drive every alert type's
// state machine in a single pass (spec.md §4.5 table).
type Inputs struct {
	Score         int
	ErrorRate     float64 // percent
	Continuity    int64
	TTFBAvg       float64 // ms
	DownloadRatio float64
}

type key struct {
	streamID string
	alert    models.AlertType
}

// Engine owns the active-alert map and resolved history for every
// monitored stream (spec.md §4.5, §5 "the alert engine holds one lock
// over the active-alert map and history").
type Engine struct {
	mu       sync.Mutex
	active   map[key]*models.Alert
	history  []models.Alert
	notifier WebhookNotifier
	counter  int64
}

// New returns an Engine. notifier may be nil to disable webhook fan-out
// (useful in tests).
func New(notifier WebhookNotifier) *Engine {
	return &Engine{
		active:   make(map[key]*models.Alert),
		notifier: notifier,
	}
}

// Evaluate runs every alert type's hysteresis check against in and
// returns the alerts that are currently active for the stream after the
// pass (spec.md §8 scenario 5).
func (e *Engine) Evaluate(streamID string, in Inputs) []models.Alert {
	e.checkHealthCritical(streamID, in.Score)
	e.checkHealthDegraded(streamID, in.Score)
	e.checkHighErrorRate(streamID, in.ErrorRate)
	e.checkContinuityErrors(streamID, in.Continuity)
	e.checkHighTTFB(streamID, in.TTFBAvg)
	e.checkSlowDownload(streamID, in.DownloadRatio)

	return e.ActiveAlerts(streamID)
}

func (e *Engine) checkHealthCritical(streamID string, score int) {
	if score < 40 {
		e.raise(streamID, models.AlertHealthCritical, models.SeverityCritical,
			fmt.Sprintf("health score %d is critical", score), map[string]interface{}{"score": score})
		return
	}
	if score >= 40 {
		e.resolve(streamID, models.AlertHealthCritical)
	}
}

func (e *Engine) checkHealthDegraded(streamID string, score int) {
	if score < 60 {
		e.raise(streamID, models.AlertHealthDegraded, models.SeverityWarn,
			fmt.Sprintf("health score %d is degraded", score), map[string]interface{}{"score": score})
		return
	}
	e.resolve(streamID, models.AlertHealthDegraded)
	if score >= 60 {
		// Crossing back above the DEGRADED threshold clears CRITICAL too
		// (spec.md §4.5: "also force-resolve HEALTH_CRITICAL when >=60").
		e.resolve(streamID, models.AlertHealthCritical)
	}
}

func (e *Engine) checkHighErrorRate(streamID string, rate float64) {
	switch {
	case rate >= 5:
		e.raise(streamID, models.AlertHighErrorRate, models.SeverityError,
			fmt.Sprintf("error rate %.2f%% is high", rate), map[string]interface{}{"error_rate": rate})
	case rate >= 1:
		e.raise(streamID, models.AlertHighErrorRate, models.SeverityWarn,
			fmt.Sprintf("error rate %.2f%% is elevated", rate), map[string]interface{}{"error_rate": rate})
	case rate < 1:
		e.resolve(streamID, models.AlertHighErrorRate)
	}
}

func (e *Engine) checkContinuityErrors(streamID string, count int64) {
	switch {
	case count >= 20:
		e.raise(streamID, models.AlertContinuityError, models.SeverityError,
			fmt.Sprintf("%d continuity errors", count), map[string]interface{}{"continuity_errors": count})
	case count >= 5:
		e.raise(streamID, models.AlertContinuityError, models.SeverityWarn,
			fmt.Sprintf("%d continuity errors", count), map[string]interface{}{"continuity_errors": count})
	default:
		e.resolve(streamID, models.AlertContinuityError)
	}
}

func (e *Engine) checkHighTTFB(streamID string, ttfb float64) {
	switch {
	case ttfb >= 1000:
		e.raise(streamID, models.AlertHighTTFB, models.SeverityError,
			fmt.Sprintf("ttfb %.0fms is high", ttfb), map[string]interface{}{"ttfb_avg": ttfb})
	case ttfb >= 500:
		e.raise(streamID, models.AlertHighTTFB, models.SeverityWarn,
			fmt.Sprintf("ttfb %.0fms is elevated", ttfb), map[string]interface{}{"ttfb_avg": ttfb})
	default:
		e.resolve(streamID, models.AlertHighTTFB)
	}
}

func (e *Engine) checkSlowDownload(streamID string, ratio float64) {
	switch {
	case ratio <= 0.5:
		e.raise(streamID, models.AlertSlowDownload, models.SeverityError,
			fmt.Sprintf("download ratio %.2f is slow", ratio), map[string]interface{}{"download_ratio": ratio})
	case ratio <= 0.8:
		e.raise(streamID, models.AlertSlowDownload, models.SeverityWarn,
			fmt.Sprintf("download ratio %.2f is slow", ratio), map[string]interface{}{"download_ratio": ratio})
	default:
		e.resolve(streamID, models.AlertSlowDownload)
	}
}

// raise creates a new alert, or — if one of this type is already
// unresolved for the stream — updates its severity, message, timestamp,
// and metadata in place without creating a second record or firing a
// second webhook event (spec.md §4.5 "Dedup" and the severity-escalation
// open question).
func (e *Engine) raise(streamID string, alertType models.AlertType, severity models.Severity, message string, metadata map[string]interface{}) {
	e.mu.Lock()
	k := key{streamID, alertType}
	if existing, ok := e.active[k]; ok {
		existing.Severity = severity
		existing.Message = message
		existing.CreatedAt = time.Now().UTC()
		for mk, mv := range metadata {
			if existing.Metadata == nil {
				existing.Metadata = make(map[string]interface{})
			}
			existing.Metadata[mk] = mv
		}
		e.syncHistory(*existing)
		e.mu.Unlock()
		return
	}

	a := models.Alert{
		ID:        e.nextID(),
		StreamID:  streamID,
		Type:      alertType,
		Severity:  severity,
		Message:   message,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	e.active[k] = &a
	e.history = append(e.history, a)
	e.mu.Unlock()

	e.notify(a)
}

func (e *Engine) resolve(streamID string, alertType models.AlertType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key{streamID, alertType}
	a, ok := e.active[k]
	if !ok {
		return
	}
	now := time.Now().UTC()
	a.Resolved = true
	a.ResolvedAt = &now
	delete(e.active, k)

	for i := range e.history {
		if e.history[i].ID == a.ID {
			e.history[i] = *a
			break
		}
	}
}

// Acknowledge flips the acknowledged flag on the alert with the given ID
// and reports whether a match was found (spec.md §4.5).
func (e *Engine) Acknowledge(alertID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.active {
		if a.ID == alertID {
			a.Acknowledged = true
			e.syncHistory(*a)
			return true
		}
	}
	for i := range e.history {
		if e.history[i].ID == alertID {
			e.history[i].Acknowledged = true
			return true
		}
	}
	return false
}

func (e *Engine) syncHistory(a models.Alert) {
	for i := range e.history {
		if e.history[i].ID == a.ID {
			e.history[i] = a
			return
		}
	}
}

// ActiveAlerts returns the currently unresolved alerts for a stream.
func (e *Engine) ActiveAlerts(streamID string) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Alert
	for k, a := range e.active {
		if k.streamID == streamID {
			out = append(out, *a)
		}
	}
	return out
}

// History returns the retained alerts for a stream: active ones, plus
// resolved ones when includeResolved is true. Resolved alerts dropped by
// CleanupOldAlerts are no longer returned.
func (e *Engine) History(streamID string, includeResolved bool) []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []models.Alert
	for _, a := range e.history {
		if a.StreamID != streamID {
			continue
		}
		if !includeResolved && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out
}

// CleanupOldAlerts drops resolved alerts whose resolution time is older
// than maxAge, relative to now (spec.md §4.5).
func (e *Engine) CleanupOldAlerts(maxAge time.Duration, now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := now.Add(-maxAge)
	kept := e.history[:0]
	dropped := 0
	for _, a := range e.history {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	e.history = kept
	return dropped
}

// RemoveStream evicts every active alert and history entry for a stream
// (spec.md §3 "Destruction of a stream is atomic ... including alert
// engine").
func (e *Engine) RemoveStream(streamID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for k := range e.active {
		if k.streamID == streamID {
			delete(e.active, k)
		}
	}
	kept := e.history[:0]
	for _, a := range e.history {
		if a.StreamID != streamID {
			kept = append(kept, a)
		}
	}
	e.history = kept
}

func (e *Engine) notify(a models.Alert) {
	if e.notifier == nil {
		return
	}
	go e.notifier.SendEvent("alert_raised", map[string]interface{}{
		"id":        a.ID,
		"stream_id": a.StreamID,
		"alert_type": a.Type,
		"severity":  a.Severity,
		"message":   a.Message,
	})
}

func (e *Engine) nextID() string {
	n := atomic.AddInt64(&e.counter, 1)
	return fmt.Sprintf("%d-%d", time.Now().UTC().UnixNano(), n)
}
