package viewer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/focus-sensor/internal/display"
	"github.com/e7canasta/focus-sensor/internal/events"
	"github.com/e7canasta/focus-sensor/internal/types"
)

func newTestHub(t *testing.T) (*Hub, *display.Supplier, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	supplier := display.NewSupplier()
	if err := supplier.Start(ctx); err != nil {
		t.Fatalf("supplier Start() failed: %v", err)
	}
	t.Cleanup(func() { supplier.Stop() })

	hub := NewHub(supplier)
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return hub, supplier, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_StreamsFrames(t *testing.T) {
	hub, supplier, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	supplier.Publish(&types.AnnotatedFrame{
		Seq:       7,
		SessionID: "s1",
		JPEG:      []byte{0xFF, 0xD8, 0xFF, 0xD9},
		Overlay:   []string{types.DrowsyOverlayText},
		Verdicts:  []types.FrameVerdict{{IsDrowsy: true, AverageEAR: 0.05}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("meta kind = %d, want text", kind)
	}
	var meta FrameMessage
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("meta is not JSON: %v", err)
	}
	if meta.Type != "frame" || meta.Seq != 7 || !meta.Drowsy || meta.Faces != 1 {
		t.Errorf("meta = %+v", meta)
	}

	kind, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read jpeg: %v", err)
	}
	if kind != websocket.BinaryMessage || len(data) != 4 {
		t.Errorf("jpeg message kind=%d len=%d", kind, len(data))
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub, _, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	hub.Broadcast(events.Event{
		Type:      events.TypeSessionSummary,
		SessionID: "s1",
		Summary:   &types.SessionSummary{SessionID: "s1", FocusScore: -28},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}

	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if msg.Type != "event" || msg.Event.Summary == nil || msg.Event.Summary.FocusScore != -28 {
		t.Errorf("event message = %+v", msg)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, supplier, url := newTestHub(t)
	conn := dial(t, url)
	waitClients(t, hub, 1)

	if n := len(supplier.Stats().Viewers); n != 1 {
		t.Fatalf("supplier viewers = %d, want 1", n)
	}

	conn.Close()
	waitClients(t, hub, 0)

	deadline := time.Now().Add(2 * time.Second)
	for len(supplier.Stats().Viewers) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer not unsubscribed from supplier")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
