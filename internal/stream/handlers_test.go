package stream

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-zachatter/internal/post"
	"backend-zachatter/internal/session"
	"backend-zachatter/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

func startServer(t *testing.T, hub *Hub) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = app.Shutdown()
		ln.Close()
	})
	return "ws://" + ln.Addr().String() + "/stream/ws/"
}

func readUntil(t *testing.T, conn *websocket.Conn, frameType string) session.Outbound {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read error waiting for %s: %v", frameType, err)
		}
		var out session.Outbound
		if err := json.Unmarshal(msg, &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Type == frameType {
			return out
		}
	}
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/stream/ws/session-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 for non-websocket request, got %d", resp.StatusCode)
	}
}

func TestStreamSessionOverWebsocket(t *testing.T) {
	store := post.NewMemoryStore(nil)
	store.Insert(context.Background(), post.Post{ID: "near", Message: "hi", Location: geo.Point{Lat: 35, Lng: 135}, CreatedAt: time.Now()})
	hub := NewHub(memoryFactory(store), nil)
	base := startServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(base+"viewer-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(session.Inbound{Type: session.FrameLocation, Lat: 35, Lng: 135}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	vp := readUntil(t, conn, session.OutViewport)
	if vp.Payload == nil {
		t.Fatalf("expected viewport payload")
	}

	for {
		out := readUntil(t, conn, session.OutMarkers)
		markers, _ := out.Payload.([]any)
		if len(markers) == 2 {
			break
		}
	}

	if err := conn.WriteJSON(session.Inbound{Type: session.FrameMarkerTap, PostID: "near"}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	detail := readUntil(t, conn, session.OutDetail)
	payload, _ := detail.Payload.(map[string]any)
	if payload["heading"] != "Posted 0 Minutes Ago" {
		t.Fatalf("unexpected detail %+v", detail.Payload)
	}
}

func TestStreamReportsBadFrames(t *testing.T) {
	hub := NewHub(memoryFactory(post.NewMemoryStore(nil)), nil)
	base := startServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(base+"viewer-2", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if out := readUntil(t, conn, session.OutError); out.Payload == nil {
		t.Fatalf("expected error payload")
	}

	if err := conn.WriteJSON(session.Inbound{Type: "teleport"}); err != nil {
		t.Fatalf("write error: %v", err)
	}
	readUntil(t, conn, session.OutError)
}

func TestStreamClosesSessionOnDisconnect(t *testing.T) {
	hub := NewHub(memoryFactory(post.NewMemoryStore(nil)), nil)
	base := startServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(base+"viewer-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not closed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
