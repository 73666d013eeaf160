package websocket

import (
	"sync"
)

// Registry indexes every admitted connection, independent of room
// membership. It backs connection stats and closes sockets on shutdown.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connectionID -> Connection
	byUser      map[string]map[string]*Connection // userID -> connectionID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[string]map[string]*Connection),
	}
}

// RegisterConnection adds conn. A user may hold several connections
// (for example a teacher with two tabs), so nothing is replaced.
func (r *Registry) RegisterConnection(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn

	userID := conn.Identity().UserID
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Connection)
	}
	r.byUser[userID][conn.ID()] = conn

	return nil
}

// UnregisterConnection is idempotent and only removes the exact instance
// that was registered.
func (r *Registry) UnregisterConnection(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())

	userID := conn.Identity().UserID
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

func (r *Registry) GetConnection(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connectionID]
	return conn, exists
}

// GetUserConnections returns every open connection for userID.
func (r *Registry) GetUserConnections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"unique_users":      len(r.byUser),
	}
}

// CloseAll closes every registered connection. Read pumps observe the
// closure and run their normal leave path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
