// Package wsbridge adapts the in-memory Event Bus onto a
// gorilla/websocket connection per spec.md §6: "WS /ws/streams/{id} —
// subscribes to that stream's event bus; server replies to any client
// text with {type:"pong",stream_id}". The read/write pump split and
// ping/pong deadlines follow the same constants as the corpus's websocket hub.
package wsbridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kvkushal/amagi-hls-monitor/internal/eventbus"
	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge serves one WebSocket connection per client, fed from the Event
// Bus's per-stream subscriber groups.
type Bridge struct {
	bus *eventbus.Bus
	log logging.Logger
}

// NewBridge wires a Bridge onto bus. log may be nil.
func NewBridge(bus *eventbus.Bus, log logging.Logger) *Bridge {
	return &Bridge{bus: bus, log: log}
}

type pongMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id"`
}

// ServeStream upgrades the request and subscribes the connection to
// streamID's event bus group until the client disconnects.
func (b *Bridge) ServeStream(w http.ResponseWriter, r *http.Request, streamID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.warnf("websocket upgrade failed", err)
		return
	}

	sub := eventbus.NewSubscriber(uuid.NewString())
	b.bus.Connect(streamID, sub)

	done := make(chan struct{})
	go b.writePump(conn, sub, done)
	b.readPump(conn, streamID, done)

	b.bus.Disconnect(streamID, sub.ID)
}

// readPump relays client text frames into a pong reply and blocks until
// the connection closes, at which point it closes done to stop writePump.
func (b *Bridge) readPump(conn *websocket.Conn, streamID string, done chan struct{}) {
	defer close(done)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply, err := json.Marshal(pongMessage{Type: "pong", StreamID: streamID})
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// writePump relays the subscriber's buffered channel onto the
// connection, pinging periodically to detect dead peers.
func (b *Bridge) writePump(conn *websocket.Conn, sub *eventbus.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sub.SendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (b *Bridge) warnf(msg string, err error) {
	if b.log == nil {
		return
	}
	b.log.WithFields(logging.Fields{"error": err}).Warn(msg)
}
