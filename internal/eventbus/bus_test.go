package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New()
	a := NewSubscriber("a")
	c := NewSubscriber("c")
	b.Connect("s1", a)
	b.Connect("s1", c)

	if err := b.Broadcast("s1", models.Event{Type: models.EventHealthUpdate}); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []*Subscriber{a, c} {
		select {
		case data := <-sub.SendCh:
			var evt models.Event
			if err := json.Unmarshal(data, &evt); err != nil {
				t.Fatal(err)
			}
			if evt.Type != models.EventHealthUpdate {
				t.Errorf("got type %q", evt.Type)
			}
			if evt.Timestamp.IsZero() {
				t.Error("expected Broadcast to attach a timestamp")
			}
		default:
			t.Errorf("subscriber %s did not receive the broadcast", sub.ID)
		}
	}
}

func TestBroadcastDoesNotCrossStreams(t *testing.T) {
	b := New()
	sub := NewSubscriber("a")
	b.Connect("s1", sub)

	b.Broadcast("s2", models.Event{Type: models.EventAlarm})

	select {
	case <-sub.SendCh:
		t.Error("subscriber of s1 should not receive an s2 broadcast")
	default:
	}
}

func TestDisconnectRemovesSubscriberAndEmptyGroup(t *testing.T) {
	b := New()
	sub := NewSubscriber("a")
	b.Connect("s1", sub)
	b.Disconnect("s1", "a")

	if b.SubscriberCount("s1") != 0 {
		t.Errorf("expected 0 subscribers after disconnect, got %d", b.SubscriberCount("s1"))
	}
}

func TestBroadcastEvictsFullSubscriber(t *testing.T) {
	b := New()
	sub := NewSubscriber("slow")
	b.Connect("s1", sub)

	// Fill the subscriber's buffer so the next broadcast fails to send.
	for i := 0; i < sendBuffer; i++ {
		b.Broadcast("s1", models.Event{Type: models.EventPong})
	}
	if b.SubscriberCount("s1") != 1 {
		t.Fatalf("expected subscriber still connected while buffer has room, got %d", b.SubscriberCount("s1"))
	}

	b.Broadcast("s1", models.Event{Type: models.EventPong})
	if b.SubscriberCount("s1") != 0 {
		t.Errorf("expected the full subscriber to be evicted, got %d remaining", b.SubscriberCount("s1"))
	}
}

func TestSendPersonalTargetsOneSubscriber(t *testing.T) {
	b := New()
	a := NewSubscriber("a")
	other := NewSubscriber("other")
	b.Connect("s1", a)
	b.Connect("s1", other)

	b.SendPersonal("s1", "a", models.Event{Type: models.EventConnected})

	select {
	case <-a.SendCh:
	default:
		t.Error("expected subscriber a to receive the personal message")
	}
	select {
	case <-other.SendCh:
		t.Error("did not expect subscriber other to receive the personal message")
	default:
	}
}

func TestRemoveStreamEvictsAllSubscribers(t *testing.T) {
	b := New()
	b.Connect("s1", NewSubscriber("a"))
	b.Connect("s1", NewSubscriber("c"))
	b.RemoveStream("s1")

	if b.SubscriberCount("s1") != 0 {
		t.Errorf("expected 0 subscribers after RemoveStream, got %d", b.SubscriberCount("s1"))
	}
}
