package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-notifier/internal/observability"
)

const wsWriteTimeout = 5 * time.Second

// WSSession represents a connected operator client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(v)
}

// WSHub holds operator sessions and broadcasts JSON frames to all of them.
// As a Dispatcher it broadcasts Notification frames.
type WSHub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{sessions: make(map[string]*WSSession), logger: logger}
}

// Add registers conn and returns its session id.
func (h *WSHub) Add(conn *websocket.Conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = &WSSession{conn: conn}
	return id
}

func (h *WSHub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Send writes v to one session.
func (h *WSHub) Send(id string, v any) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(v)
}

// Broadcast writes v to every session and drops the ones that fail.
// It returns the number of successful writes.
func (h *WSHub) Broadcast(v any) int {
	h.mu.RLock()
	targets := make(map[string]*WSSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		if err := s.Send(v); err != nil {
			h.logger.Warn("ws send error", "session", id, "error", err)
			h.Remove(id)
			continue
		}
		sent++
	}
	return sent
}

// Serve blocks reading from the session until the client goes away, then
// removes it. Incoming frames are ignored.
func (h *WSHub) Serve(id string) {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	defer h.Remove(id)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close disconnects every session.
func (h *WSHub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*WSSession)
	h.mu.Unlock()
	for _, s := range sessions {
		_ = s.conn.Close()
	}
}

func (h *WSHub) Dispatch(_ context.Context, title, body string) {
	n := h.Broadcast(newNotification(title, body))
	observability.NotificationsSent.WithLabelValues("websocket").Add(float64(n))
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
