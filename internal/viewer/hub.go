// Package viewer streams annotated frames and session events to
// browser clients over WebSocket.
//
// Every client gets a JSON text message {"type":"frame",...} followed by a
// binary message with the JPEG for each frame it keeps up with, and a
// {"type":"event",...} text message for every session event.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/types"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	eventQueueSize = 16
)

// FrameSource hands out per-viewer latest-frame readers
type FrameSource interface {
	Subscribe(viewerID string) func() *types.AnnotatedFrame
	Unsubscribe(viewerID string)
}

// FrameMessage precedes every binary JPEG message
type FrameMessage struct {
	Type      string    `json:"type"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Drowsy    bool      `json:"drowsy"`
	Overlay   []string  `json:"overlay,omitempty"`
	Faces     int       `json:"faces"`
}

// EventMessage wraps a session event
type EventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Hub tracks connected viewers
type Hub struct {
	frames FrameSource

	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	quit       chan struct{}
	mutex      sync.RWMutex

	nextID        atomic.Uint64
	framesSent    atomic.Uint64
	eventsDropped atomic.Uint64
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(frames FrameSource) *Hub {
	return &Hub{
		frames:     frames,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		quit:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.quit)
			h.mutex.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mutex.Unlock()
			slog.Info("viewer: client registered", "viewer_id", c.id, "remote", c.remote, "clients", n)

		case c := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			slog.Info("viewer: client unregistered", "viewer_id", c.id, "clients", n)

		case msg := <-h.broadcast:
			h.mutex.RLock()
			for c := range h.clients {
				select {
				case c.events <- msg:
				default:
					h.eventsDropped.Add(1)
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Clients returns the number of connected viewers
func (h *Hub) Clients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every viewer without blocking
func (h *Hub) Broadcast(ev events.Event) {
	data, err := json.Marshal(EventMessage{Type: "event", Event: ev})
	if err != nil {
		slog.Error("viewer: marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.eventsDropped.Add(1)
	}
}

// ForwardEvents broadcasts events from ch until it closes or ctx is done
func (h *Hub) ForwardEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Stats for the hub
type Stats struct {
	Clients       int    `json:"clients"`
	FramesSent    uint64 `json:"frames_sent"`
	EventsDropped uint64 `json:"events_dropped"`
}

// Stats returns a snapshot
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:       h.Clients(),
		FramesSent:    h.framesSent.Load(),
		EventsDropped: h.eventsDropped.Load(),
	}
}

// ServeHTTP upgrades the request and serves one viewer
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("viewer: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:     fmt.Sprintf("ws-%d", h.nextID.Add(1)),
		remote: r.RemoteAddr,
		conn:   conn,
		events: make(chan []byte, eventQueueSize),
		frames: make(chan *types.AnnotatedFrame, 1),
		done:   make(chan struct{}),
	}

	read := h.frames.Subscribe(c.id)

	select {
	case h.register <- c:
	case <-h.quit:
		h.frames.Unsubscribe(c.id)
		conn.Close()
		return
	case <-r.Context().Done():
		h.frames.Unsubscribe(c.id)
		conn.Close()
		return
	}

	go h.pumpFrames(c, read)
	go h.writeLoop(c)
	go h.readLoop(c)
}

// pumpFrames moves frames from the supplier slot into the client's
// one-deep channel, replacing any frame the writer has not taken yet.
func (h *Hub) pumpFrames(c *client, read func() *types.AnnotatedFrame) {
	for {
		frame := read()
		if frame == nil {
			return
		}
		select {
		case <-c.frames:
		default:
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.events:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case frame := <-c.frames:
			meta, err := json.Marshal(FrameMessage{
				Type:      "frame",
				Seq:       frame.Seq,
				SessionID: frame.SessionID,
				Timestamp: frame.Timestamp,
				Drowsy:    frame.Drowsy(),
				Overlay:   frame.Overlay,
				Faces:     len(frame.Verdicts),
			})
			if err != nil {
				return
			}
			if err := c.write(websocket.TextMessage, meta); err != nil {
				return
			}
			if err := c.write(websocket.BinaryMessage, frame.JPEG); err != nil {
				return
			}
			h.framesSent.Add(1)

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards client messages and detects disconnects
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("viewer: read error", "viewer_id", c.id, "error", err)
			}
			return
		}
	}
}

// drop unsubscribes the client from frames and removes it from the hub
func (h *Hub) drop(c *client) {
	c.dropOnce.Do(func() {
		h.frames.Unsubscribe(c.id)
		select {
		case h.unregister <- c:
		case <-c.done:
		case <-h.quit:
			c.close()
		}
	})
}

type client struct {
	id     string
	remote string
	conn   *websocket.Conn
	events chan []byte
	frames chan *types.AnnotatedFrame

	done      chan struct{}
	closeOnce sync.Once
	dropOnce  sync.Once
}

func (c *client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
