package websocket

import (
	"sync"

	"lifeline/internal/metrics"
)

// Registry is the in-memory room map: session ID to the set of live
// connections, each tagged with its role. Rooms are created lazily on
// first join and vanish when the last member leaves; the authoritative
// session state lives in the store, so a registry rebuilt after a
// restart loses nothing that matters.
//
// The registry is a plain injected instance, created at server start
// and torn down with it. Tests run as many isolated registries as they
// like.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Connection // sessionID -> connID -> Connection
	metrics *metrics.Metrics
}

// NewRegistry creates an empty room registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]*Connection),
		metrics: m,
	}
}

// Register adds a joined connection to its room. Idempotent per
// connection: re-joining the same room replaces the existing entry.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsJoined() {
		return ErrNotJoined
	}

	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[sessionID]
	if !exists {
		room = make(map[string]*Connection)
		r.rooms[sessionID] = room
	}
	if _, already := room[conn.GetConnID()]; !already {
		r.metrics.ActiveConnections.Inc()
	}
	room[conn.GetConnID()] = conn

	r.metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return nil
}

// Unregister removes a connection from its room. Idempotent; only
// removes the instance that is currently registered, so a stale
// connection can never evict its replacement. Empty rooms are
// garbage-collected with no persisted trace.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil || !conn.IsJoined() {
		return
	}

	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[sessionID]
	if !exists {
		return
	}
	registered, exists := room[conn.GetConnID()]
	if !exists || registered != conn {
		return
	}

	delete(room, conn.GetConnID())
	r.metrics.ActiveConnections.Dec()
	if len(room) == 0 {
		delete(r.rooms, sessionID)
	}

	r.metrics.ActiveRooms.Set(float64(len(r.rooms)))
}

// GetRoomMembers returns every current member of a session room.
func (r *Registry) GetRoomMembers(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[sessionID]
	if !exists {
		return nil
	}

	members := make([]*Connection, 0, len(room))
	for _, conn := range room {
		members = append(members, conn)
	}
	return members
}

// GetRoomMembersByRole returns the members of a room holding a role.
func (r *Registry) GetRoomMembersByRole(sessionID, role string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []*Connection
	for _, conn := range r.rooms[sessionID] {
		if conn.GetRole() == role {
			members = append(members, conn)
		}
	}
	return members
}

// GetStats returns registry counters for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, room := range r.rooms {
		total += len(room)
	}

	return map[string]int{
		"total_connections": total,
		"active_rooms":      len(r.rooms),
	}
}
