// Package presence derives join/leave/typing broadcasts from room
// membership changes and keeps typing indicators honest: duplicates are
// suppressed and a stale indicator is cleared after a TTL, on message
// send, and on disconnect.
package presence

import (
	"sync"
	"time"

	"github.com/ncolvin/parlor/internal/event"
	"github.com/ncolvin/parlor/internal/user"
)

// Notifier fans an encoded event out to every member of a room except
// exceptConnID (empty string means no exception). The router provides it.
type Notifier func(roomID, exceptConnID string, data []byte)

// Coordinator emits presence and typing events. Typing booleans live in
// the connection registry; the coordinator owns only the expiry timers.
type Coordinator struct {
	reg    *user.Registry
	notify Notifier
	ttl    time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // connection ID -> typing expiry
}

// NewCoordinator creates a coordinator. ttl is how long a typing
// indicator survives without being refreshed; zero disables expiry.
func NewCoordinator(reg *user.Registry, notify Notifier, ttl time.Duration) *Coordinator {
	return &Coordinator{
		reg:    reg,
		notify: notify,
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}
}

// Joined announces a join to the other members of the room.
func (c *Coordinator) Joined(roomID, connID, username string, count int) {
	c.notify(roomID, connID, event.Marshal(event.TypeUserJoined, event.PresencePayload{
		Username:  username,
		UserCount: count,
	}))
}

// Left clears any live typing indicator for the connection, then
// announces the departure to the remaining members.
func (c *Coordinator) Left(roomID, connID, username string, count int) {
	if c.reg.SetTyping(connID, false) {
		c.broadcastTyping(roomID, connID, username, false)
	}
	c.stopTimer(connID)
	c.notify(roomID, connID, event.Marshal(event.TypeUserLeft, event.PresencePayload{
		Username:  username,
		UserCount: count,
	}))
}

// Disconnected clears typing state for a connection that vanished while
// marked typing. The final state is taken from the registry's last
// snapshot since the connection itself is already unregistered.
func (c *Coordinator) Disconnected(conn user.Connection) {
	c.stopTimer(conn.ID)
	if conn.Typing && conn.RoomID != "" {
		c.broadcastTyping(conn.RoomID, conn.ID, conn.Username, false)
	}
}

// SetTyping records a typing-state change. Redundant repeats are
// suppressed: only an actual transition reaches the other room members.
// A true transition arms (or re-arms) the expiry timer.
func (c *Coordinator) SetTyping(roomID, connID, username string, typing bool) {
	changed := c.reg.SetTyping(connID, typing)

	if typing {
		// Refresh the expiry even on a repeat, so held-down typing
		// does not get reaped mid-compose.
		c.armTimer(roomID, connID, username)
	} else {
		c.stopTimer(connID)
	}

	if changed {
		c.broadcastTyping(roomID, connID, username, typing)
	}
}

// ClearTyping drops the typing indicator, broadcasting false if it was
// set. Called when the connection sends a message.
func (c *Coordinator) ClearTyping(roomID, connID, username string) {
	c.stopTimer(connID)
	if c.reg.SetTyping(connID, false) {
		c.broadcastTyping(roomID, connID, username, false)
	}
}

func (c *Coordinator) broadcastTyping(roomID, connID, username string, typing bool) {
	c.notify(roomID, connID, event.Marshal(event.TypeUserTyping, event.UserTypingPayload{
		Username: username,
		Typing:   typing,
	}))
}

func (c *Coordinator) armTimer(roomID, connID, username string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[connID]; ok {
		t.Stop()
	}
	c.timers[connID] = time.AfterFunc(c.ttl, func() {
		c.expire(roomID, connID, username)
	})
}

func (c *Coordinator) stopTimer(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[connID]; ok {
		t.Stop()
		delete(c.timers, connID)
	}
}

// expire fires when a typing indicator outlives the TTL.
func (c *Coordinator) expire(roomID, connID, username string) {
	c.mu.Lock()
	delete(c.timers, connID)
	c.mu.Unlock()
	if c.reg.SetTyping(connID, false) {
		c.broadcastTyping(roomID, connID, username, false)
	}
}
