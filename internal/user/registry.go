// Package user tracks live connections and enforces display-name
// uniqueness across them.
package user

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is the server-side state for one live transport session.
type Connection struct {
	ID          string
	Username    string
	RoomID      string
	Typing      bool
	ConnectedAt time.Time
}

// Registry owns the set of live connections. All access goes through
// the mutex; methods return copies so callers never see mid-mutation state.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Connection),
	}
}

// Register creates a new anonymous connection and returns a snapshot of it.
func (r *Registry) Register() Connection {
	c := &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	return *c
}

// Unregister removes the connection and returns its final state. The
// second return value is false if the connection was already removed,
// which makes Unregister the exactly-once gate for disconnect cleanup.
func (r *Registry) Unregister(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return *c, true
}

// Get returns a snapshot of the connection, or false if unknown.
func (r *Registry) Get(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// SetUsername records the bound display name. Returns false if the
// connection is gone.
func (r *Registry) SetUsername(id, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.Username = username
	return true
}

// SetRoom records the connection's current room. An empty roomID means
// the connection is in no room.
func (r *Registry) SetRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.RoomID = roomID
	return true
}

// SetTyping updates the typing flag and reports whether the value
// actually changed. Unknown connections report no change.
func (r *Registry) SetTyping(id string, typing bool) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || c.Typing == typing {
		return false
	}
	c.Typing = typing
	return true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
