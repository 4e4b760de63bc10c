// Package eventbus implements the per-stream subscriber registry and
// broadcast described in spec.md §4.6, adapted from a process-wide
// gorilla/websocket hub to an in-memory, per-stream channel fan-out: the
// wire transport lives separately in internal/wsbridge.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

// Subscriber receives serialized event frames. SendCh is buffered; a
// full channel counts as a send failure and the subscriber is evicted.
type Subscriber struct {
	ID     string
	SendCh chan []byte
}

const sendBuffer = 32

// NewSubscriber allocates a Subscriber with the bus's standard buffer
// size.
func NewSubscriber(id string) *Subscriber {
	return &Subscriber{ID: id, SendCh: make(chan []byte, sendBuffer)}
}

// Bus is the per-stream subscriber registry (spec.md §4.6, §5 "the event
// bus holds its own lock over subscriber sets").
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscriber // stream ID -> subscriber ID -> subscriber
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*Subscriber)}
}

// Connect registers a subscriber for a stream's events.
func (b *Bus) Connect(streamID string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[streamID] == nil {
		b.subs[streamID] = make(map[string]*Subscriber)
	}
	b.subs[streamID][sub.ID] = sub
}

// Disconnect removes a subscriber; if it was the stream's last
// subscriber the stream's entry is removed entirely.
func (b *Bus) Disconnect(streamID, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.subs[streamID]
	if group == nil {
		return
	}
	delete(group, subscriberID)
	if len(group) == 0 {
		delete(b.subs, streamID)
	}
}

// Broadcast serializes msg (attaching a timestamp if absent) and sends it
// to every subscriber of streamID. Subscribers whose channel is full are
// evicted atomically with the send pass (spec.md §4.6).
func (b *Bus) Broadcast(streamID string, evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.subs[streamID]
	if group == nil {
		return nil
	}

	var failed []string
	for id, sub := range group {
		select {
		case sub.SendCh <- data:
		default:
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		delete(group, id)
	}
	if len(group) == 0 {
		delete(b.subs, streamID)
	}
	return nil
}

// SendPersonal delivers msg to a single subscriber without touching the
// rest of the stream's group.
func (b *Bus) SendPersonal(streamID, subscriberID string, evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.subs[streamID]
	if group == nil {
		return nil
	}
	sub, ok := group[subscriberID]
	if !ok {
		return nil
	}
	select {
	case sub.SendCh <- data:
	default:
		delete(group, subscriberID)
		if len(group) == 0 {
			delete(b.subs, streamID)
		}
	}
	return nil
}

// SubscriberCount reports how many subscribers a stream currently has.
func (b *Bus) SubscriberCount(streamID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[streamID])
}

// RemoveStream evicts every subscriber of a stream (spec.md §3
// "Destruction of a stream is atomic"). Subscriber channels are left
// open; callers are expected to close their own connection loop when
// their SendCh stops receiving registrations.
func (b *Bus) RemoveStream(streamID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, streamID)
}
