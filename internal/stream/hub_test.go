package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"backend-zachatter/internal/mapview"
	"backend-zachatter/internal/post"
	"backend-zachatter/internal/session"
	"backend-zachatter/internal/visibility"
)

func memoryFactory(store *post.MemoryStore) SessionFactory {
	return func(id string, sink session.Sink) *session.Session {
		return session.New(id, session.Deps{
			Posts:  store,
			Window: visibility.NewWindow(150, 0.2),
			Map:    mapview.DefaultSettings(),
		}, sink)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)

	hub.Broadcast("session-1", []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("session-2")
	if !hub.Unregister(client) {
		t.Fatalf("expected last client")
	}
	if hub.Unregister(client) {
		t.Fatalf("second unregister should be a no-op")
	}
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}

	hub.Send(client, []byte("late"))
	hub.Broadcast("session-2", []byte("late"))
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("slow")
	defer hub.Unregister(client)

	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("slow", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected full buffer, got %d", len(client.Send))
	}
}

func TestHubSharesSessionPerID(t *testing.T) {
	hub := NewHub(memoryFactory(post.NewMemoryStore(nil)), nil)

	a, sessA, err := hub.Attach(context.Background(), "viewer")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	b, sessB, err := hub.Attach(context.Background(), "viewer")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if sessA != sessB || hub.Sessions() != 1 {
		t.Fatalf("clients of one id must share a session")
	}

	hub.BroadcastFrame("viewer", session.Outbound{Type: session.OutDetail})
	for _, c := range []*Client{a, b} {
		var out session.Outbound
		if err := json.Unmarshal(<-c.Send, &out); err != nil || out.Type != session.OutDetail {
			t.Fatalf("unexpected frame %v %+v", err, out)
		}
	}

	hub.Detach(a)
	if hub.Sessions() != 1 {
		t.Fatalf("session must outlive the first client")
	}
	hub.Detach(b)
	if hub.Sessions() != 0 {
		t.Fatalf("session must close with its last client")
	}
}
