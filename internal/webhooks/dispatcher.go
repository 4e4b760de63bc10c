// Package webhooks implements the outbound webhook dispatcher described
// in spec.md §4.8: JSON POST fan-out to every enabled, subscribed
// webhook, with no retry on failure, and JSON-file-backed persistence of
// configs across restarts.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

// eventEnvelope is the wire shape POSTed to each webhook (spec.md §4.8).
type eventEnvelope struct {
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Dispatcher holds the registered webhooks and a persistent HTTP client
// (spec.md §4.8: "on startup holds a persistent HTTP client with 10s
// timeout").
type Dispatcher struct {
	client     *http.Client
	configPath string
	log        logging.Logger

	mu       sync.RWMutex
	webhooks map[string]models.WebhookConfig
}

// New constructs a Dispatcher and loads any persisted webhook configs
// from configPath. Missing files are treated as an empty registry.
func New(configPath string, log logging.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		client:     &http.Client{Timeout: 10 * time.Second},
		configPath: configPath,
		log:        log,
		webhooks:   make(map[string]models.WebhookConfig),
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

type persistedFile struct {
	Webhooks []models.WebhookConfig `json:"webhooks"`
}

func (d *Dispatcher) load() error {
	data, err := os.ReadFile(d.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("webhooks: read config: %w", err)
	}
	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("webhooks: parse config: %w", err)
	}
	for _, w := range pf.Webhooks {
		d.webhooks[w.ID] = w
	}
	return nil
}

func (d *Dispatcher) persist() error {
	pf := persistedFile{}
	for _, w := range d.webhooks {
		pf.Webhooks = append(pf.Webhooks, w)
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(d.configPath, data, 0o644)
}

// Add registers a webhook and persists the registry.
func (d *Dispatcher) Add(w models.WebhookConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.webhooks[w.ID] = w
	return d.persist()
}

// Remove deletes a webhook and persists the registry.
func (d *Dispatcher) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.webhooks, id)
	return d.persist()
}

// List returns a snapshot of every registered webhook.
func (d *Dispatcher) List() []models.WebhookConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.WebhookConfig, 0, len(d.webhooks))
	for _, w := range d.webhooks {
		out = append(out, w)
	}
	return out
}

// SendEvent POSTs payload to every enabled webhook subscribed to
// eventType (spec.md §4.8). Failures are logged and do not retry.
func (d *Dispatcher) SendEvent(eventType string, payload interface{}) {
	d.mu.RLock()
	targets := make([]models.WebhookConfig, 0, len(d.webhooks))
	for _, w := range d.webhooks {
		if w.Enabled && w.Subscribes(eventType) {
			targets = append(targets, w)
		}
	}
	d.mu.RUnlock()

	envelope := eventEnvelope{EventType: eventType, Timestamp: time.Now().UTC(), Payload: payload}
	for _, w := range targets {
		d.post(w, envelope)
	}
}

// SendTest POSTs a synthetic test event to a single webhook regardless
// of its event-type filters, for the `/api/webhooks/{id}/test` endpoint
// (spec.md §6).
func (d *Dispatcher) SendTest(id string) error {
	d.mu.RLock()
	w, ok := d.webhooks[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webhooks: unknown webhook %q", id)
	}
	envelope := eventEnvelope{
		EventType: "test",
		Timestamp: time.Now().UTC(),
		Payload:   map[string]string{"message": "this is a test event"},
	}
	d.post(w, envelope)
	return nil
}

func (d *Dispatcher) post(w models.WebhookConfig, envelope eventEnvelope) {
	body, err := json.Marshal(envelope)
	if err != nil {
		d.warn(w, "marshal webhook payload", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		d.warn(w, "build webhook request", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.warn(w, "send webhook", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.warn(w, "webhook returned non-2xx", fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) warn(w models.WebhookConfig, action string, err error) {
	if d.log == nil {
		return
	}
	d.log.WithFields(logging.Fields{
		"webhook_id": w.ID,
		"url":        w.URL,
		"error":      err.Error(),
	}).Warn(action)
}
