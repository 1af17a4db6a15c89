package connections

import (
	"sync"
	"time"

	"formula/internal/socket"
)

// Registry is the bidirectional map of live sockets to users, with
// per-connection heartbeat clocks. At most one socket is authoritative per
// user: registering a new socket for a known user supersedes the old
// binding without closing the old socket.
type Registry struct {
	mu            sync.RWMutex
	userToConn    map[string]*socket.Conn
	connToUser    map[*socket.Conn]string
	connectedAt   map[*socket.Conn]time.Time
	lastHeartbeat map[*socket.Conn]time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		userToConn:    make(map[string]*socket.Conn),
		connToUser:    make(map[*socket.Conn]string),
		connectedAt:   make(map[*socket.Conn]time.Time),
		lastHeartbeat: make(map[*socket.Conn]time.Time),
	}
}

// Register binds conn<->userID and resets the heartbeat clock.
func (r *Registry) Register(conn *socket.Conn, userID string) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.userToConn[userID]; ok && old != conn {
		delete(r.connToUser, old)
		delete(r.connectedAt, old)
		delete(r.lastHeartbeat, old)
	}
	r.userToConn[userID] = conn
	r.connToUser[conn] = userID
	if _, ok := r.connectedAt[conn]; !ok {
		r.connectedAt[conn] = now
	}
	r.lastHeartbeat[conn] = now
}

// Touch updates the heartbeat clock for conn.
func (r *Registry) Touch(conn *socket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connToUser[conn]; ok {
		r.lastHeartbeat[conn] = time.Now()
	}
}

// Unregister removes both directions of the mapping.
func (r *Registry) Unregister(conn *socket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if userID, ok := r.connToUser[conn]; ok {
		if r.userToConn[userID] == conn {
			delete(r.userToConn, userID)
		}
	}
	delete(r.connToUser, conn)
	delete(r.connectedAt, conn)
	delete(r.lastHeartbeat, conn)
}

// Socket returns the authoritative conn for userID, or nil if the user has
// no open registered socket.
func (r *Registry) Socket(userID string) *socket.Conn {
	r.mu.RLock()
	conn := r.userToConn[userID]
	r.mu.RUnlock()
	if conn == nil || !conn.Open() {
		return nil
	}
	return conn
}

// UserID returns the user bound to conn.
func (r *Registry) UserID(conn *socket.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.connToUser[conn]
	return userID, ok
}

// IsStale reports whether conn has not heartbeated within timeout. A conn
// with no recorded heartbeat is stale by default.
func (r *Registry) IsStale(conn *socket.Conn, timeout time.Duration) bool {
	r.mu.RLock()
	last, ok := r.lastHeartbeat[conn]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return time.Since(last) > timeout
}

// Snapshot returns the current user->conn bindings.
func (r *Registry) Snapshot() map[string]*socket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*socket.Conn, len(r.userToConn))
	for userID, conn := range r.userToConn {
		out[userID] = conn
	}
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userToConn)
}
