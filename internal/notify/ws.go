package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one connected actor.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// WSRegistry holds live websocket sessions keyed by contact identity.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*Session), logger: logger}
}

func (r *WSRegistry) Add(contactID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[contactID] = &Session{conn: conn}
}

func (r *WSRegistry) Remove(contactID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, contactID)
}

// Send delivers to a connected session; ErrNoSession when the actor has
// no live connection.
func (r *WSRegistry) Send(m Message) error {
	r.mu.RLock()
	s, ok := r.sessions[m.ContactID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(m); err != nil {
		r.logger.Warn("ws send failed", "contact_id", m.ContactID, "error", err)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
