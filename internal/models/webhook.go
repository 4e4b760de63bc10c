package models

import "time"

// WebhookConfig describes a registered outbound webhook (spec.md §3/§4.8).
type WebhookConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Enabled   bool              `json:"enabled"`
	Events    []string          `json:"events"` // empty == all event types
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Subscribes reports whether this webhook should receive the given event
// type (spec.md §4.8: "empty events list = all").
func (w WebhookConfig) Subscribes(eventType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}
