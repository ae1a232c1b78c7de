package websocket

import (
	"log/slog"
	"sync"
)

// Registry tracks live connections per classroom. Deregistering a connection
// removes it from broadcast fan-out immediately; messages already queued on
// the dropped connection are simply discarded with it.
type Registry struct {
	mu         sync.RWMutex
	classrooms map[string]map[string]*Connection // classroom ID -> participant ID -> conn
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		classrooms: make(map[string]map[string]*Connection),
		logger:     logger,
	}
}

// Register adds a connection. A participant reconnecting replaces their old
// connection, which is closed asynchronously.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	classroomID := conn.ClassroomID()
	userID := conn.Participant().ID

	r.mu.Lock()
	room := r.classrooms[classroomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.classrooms[classroomID] = room
	}
	old := room[userID]
	room[userID] = conn
	r.mu.Unlock()

	if old != nil && old != conn {
		go old.Close()
	}
	r.logger.Info("connection registered", "classroom_id", classroomID, "user_id", userID, "role", conn.Participant().Role)
	return nil
}

// Unregister removes a connection, but only if it is still the one
// registered for that participant; a stale connection never evicts its
// replacement. It reports whether this connection was the registered one,
// so callers can skip departure side effects for evicted connections.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}
	classroomID := conn.ClassroomID()
	userID := conn.Participant().ID

	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.classrooms[classroomID]
	if !ok || room[userID] != conn {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.classrooms, classroomID)
	}
	r.logger.Info("connection unregistered", "classroom_id", classroomID, "user_id", userID)
	return true
}

// Connection returns a participant's live connection within a classroom.
func (r *Registry) Connection(classroomID, userID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.classrooms[classroomID][userID]
	return conn, ok
}

// ClassroomConnections returns every live connection for a classroom.
func (r *Registry) ClassroomConnections(classroomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.classrooms[classroomID]
	out := make([]*Connection, 0, len(room))
	for _, conn := range room {
		out = append(out, conn)
	}
	return out
}

// Stats returns live connection counts per classroom.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.classrooms))
	for id, room := range r.classrooms {
		out[id] = len(room)
	}
	return out
}
