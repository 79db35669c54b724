// README: Websocket hub pushing lifecycle events to connected clients.
// UIs are pure observers; anything missed here is recovered by polling
// the authoritative state.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"wheels/internal/events"
	"wheels/internal/types"
)

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// Hub holds one websocket session per actor.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[types.ID]*session
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{log: log, sessions: make(map[types.ID]*session)}
}

func (h *Hub) Add(actorID types.ID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[actorID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[actorID] = &session{conn: conn}
}

func (h *Hub) Remove(actorID types.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[actorID]; ok {
		_ = s.conn.Close()
		delete(h.sessions, actorID)
	}
}

// Notify is best-effort: a dead session is dropped and the actor falls
// back to polling.
func (h *Hub) Notify(actorID types.ID, e events.Event) {
	h.mu.RLock()
	s, ok := h.sessions[actorID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(e); err != nil {
		h.log.Warn("ws send failed, dropping session", "actor", actorID, "err", err)
		h.Remove(actorID)
	}
}
