package stream

import (
	"context"
	"encoding/json"
	"sync"

	"backend-zachatter/internal/logging"
	"backend-zachatter/internal/session"
)

// SessionFactory builds the session behind a session id. Frames the session
// emits must go to sink.
type SessionFactory func(id string, sink session.Sink) *session.Session

// Hub tracks the websocket clients of each session. All clients of one id
// share a single session and see the same frames.
type Hub struct {
	newSession SessionFactory
	log        logging.Logger

	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	sessions map[string]*session.Session
}

type Client struct {
	SessionID string
	Send      chan []byte
	closed    bool
}

func NewHub(newSession SessionFactory, log logging.Logger) *Hub {
	return &Hub{
		newSession: newSession,
		log:        logging.OrDiscard(log),
		clients:    map[string]map[*Client]struct{}{},
		sessions:   map[string]*session.Session{},
	}
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

// Unregister removes client and closes its Send channel. It returns true
// when client was the last one of its session. Safe to call twice.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return false
	}
	client.closed = true
	close(client.Send)

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return false
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
		return true
	}
	return false
}

// Attach registers a client and returns the session for its id, creating and
// starting the session for the first client.
func (h *Hub) Attach(ctx context.Context, sessionID string) (*Client, *session.Session, error) {
	client := h.Register(sessionID)

	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		sess = h.newSession(sessionID, func(out session.Outbound) { h.BroadcastFrame(sessionID, out) })
		h.sessions[sessionID] = sess
	}
	h.mu.Unlock()

	if !ok {
		if err := sess.Start(ctx); err != nil {
			h.Detach(client)
			return nil, nil, err
		}
		h.log.WithField("session_id", sessionID).Info("session started")
	}
	return client, sess, nil
}

// Detach unregisters client and closes its session once no client is left.
func (h *Hub) Detach(client *Client) {
	if !h.Unregister(client) {
		return
	}

	h.mu.Lock()
	sess := h.sessions[client.SessionID]
	if len(h.clients[client.SessionID]) == 0 {
		delete(h.sessions, client.SessionID)
	} else {
		sess = nil
	}
	h.mu.Unlock()

	if sess != nil {
		sess.Close()
		h.log.WithField("session_id", client.SessionID).Info("session closed")
	}
}

func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[sessionID] {
		h.offer(client, payload)
	}
}

func (h *Hub) BroadcastFrame(sessionID string, out session.Outbound) {
	payload, err := json.Marshal(out)
	if err != nil {
		h.log.WithError(err).WithField("frame", out.Type).Error("encode frame")
		return
	}
	h.Broadcast(sessionID, payload)
}

// Send delivers payload to one client only.
func (h *Hub) Send(client *Client, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !client.closed {
		h.offer(client, payload)
	}
}

func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// offer drops the frame when the client is not keeping up. Callers hold mu.
func (h *Hub) offer(client *Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
		h.log.WithField("session_id", client.SessionID).Warn("client send buffer full, dropping frame")
	}
}
