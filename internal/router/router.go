// Package router ties the registry, username directory, room store, and
// presence coordinator together. It owns the per-connection state machine
// (anonymous -> named -> in a room) and all fan-out.
package router

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/ncolvin/parlor/internal/event"
	"github.com/ncolvin/parlor/internal/presence"
	"github.com/ncolvin/parlor/internal/room"
	"github.com/ncolvin/parlor/internal/user"
)

// Router errors reported back to the offending connection. Room and
// username errors from the underlying stores pass through unchanged.
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrUsernameRequired   = errors.New("set a username first")
	ErrNotInRoom          = errors.New("join a room before sending messages")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrRateLimited        = errors.New("sending messages too fast")
)

// Config carries the router's tunables.
type Config struct {
	// MaxMessageLen bounds the raw (pre-trim) rune count of a message.
	MaxMessageLen int
	// MessageRate/MessageBurst limit messages per connection.
	// A zero rate disables limiting.
	MessageRate  float64
	MessageBurst int
	// TypingTTL is how long a typing indicator survives unrefreshed.
	TypingTTL time.Duration
}

// Router orchestrates all client operations.
type Router struct {
	reg      *user.Registry
	names    *user.Directory
	rooms    *room.Store
	pres     *presence.Coordinator
	sender   event.Sender
	sanitize *bluemonday.Policy

	maxLen   int
	msgRate  rate.Limit
	msgBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Router. The sender is the transport's delivery interface.
func New(reg *user.Registry, names *user.Directory, rooms *room.Store, sender event.Sender, cfg Config) *Router {
	r := &Router{
		reg:      reg,
		names:    names,
		rooms:    rooms,
		sender:   sender,
		sanitize: bluemonday.StrictPolicy(),
		maxLen:   cfg.MaxMessageLen,
		msgRate:  rate.Limit(cfg.MessageRate),
		msgBurst: cfg.MessageBurst,
		limiters: make(map[string]*rate.Limiter),
	}
	r.pres = presence.NewCoordinator(reg, r.toRoomExcept, cfg.TypingTTL)
	return r
}

// Connect registers a new anonymous connection and returns its snapshot.
func (r *Router) Connect() user.Connection {
	return r.reg.Register()
}

// Disconnect tears down a connection: room departure, username release,
// typing cleanup, and a user_left notice to any former room members.
// Unregister succeeds exactly once, so a duplicate call is a no-op and a
// send racing this cleanup can no longer broadcast.
func (r *Router) Disconnect(connID string) {
	conn, ok := r.reg.Unregister(connID)
	if !ok {
		return
	}
	r.names.Release(connID)

	r.mu.Lock()
	delete(r.limiters, connID)
	r.mu.Unlock()

	dep, inRoom := r.rooms.Leave(connID)
	r.pres.Disconnected(conn)
	if inRoom {
		r.pres.Left(dep.RoomID, connID, dep.Username, dep.Count)
	}
}

// SetUsername claims a display name for the connection. Valid only while
// anonymous; the claim is atomic, so concurrent claims of one name grant
// exactly one winner.
func (r *Router) SetUsername(connID, name string) error {
	if _, ok := r.reg.Get(connID); !ok {
		return ErrConnectionNotFound
	}
	if err := r.names.Claim(name, connID); err != nil {
		return err
	}
	r.reg.SetUsername(connID, name)
	r.sender.SendTo(connID, event.Marshal(event.TypeUsernameSet, event.UsernameSetPayload{Username: name}))
	return nil
}

// Rooms sends the room catalog snapshot to the connection.
func (r *Router) Rooms(connID string) error {
	if _, ok := r.reg.Get(connID); !ok {
		return ErrConnectionNotFound
	}
	list := r.rooms.List()
	payload := make(map[string]event.RoomInfo, len(list))
	for id, info := range list {
		payload[id] = event.RoomInfo{
			Name:         info.Name,
			UserCount:    info.UserCount,
			MessageCount: info.MessageCount,
		}
	}
	r.sender.SendTo(connID, event.Marshal(event.TypeRoomsList, payload))
	return nil
}

// Join moves the connection into roomID. Requires a bound username. If
// the connection was in another room it leaves that room first, with a
// departure notice to the old room and an arrival notice to the new one.
func (r *Router) Join(connID, roomID string) error {
	conn, ok := r.reg.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.Username == "" {
		return ErrUsernameRequired
	}

	snap, dep, err := r.rooms.Join(roomID, connID, conn.Username)
	if err != nil {
		return err
	}
	r.reg.SetRoom(connID, roomID)

	if dep.RoomID != "" {
		r.pres.Left(dep.RoomID, connID, dep.Username, dep.Count)
	}

	r.sender.SendTo(connID, event.Marshal(event.TypeJoinedRoom, event.JoinedRoomPayload{
		Room:     snap.RoomID,
		RoomName: snap.Name,
		Users:    snap.Users,
		Messages: snap.Messages,
	}))
	r.pres.Joined(roomID, connID, conn.Username, len(snap.Users))
	return nil
}

// SendMessage validates, stores, and fans out a message to every member
// of the sender's room, sender included, so every client renders the
// server-confirmed order and timestamp. Length is validated on the raw
// text; the trimmed, sanitized text is what gets stored and broadcast.
func (r *Router) SendMessage(connID, text string) error {
	conn, ok := r.reg.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	if conn.RoomID == "" {
		return ErrNotInRoom
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.maxLen {
		return ErrMessageTooLong
	}
	if !r.allowMessage(connID) {
		return ErrRateLimited
	}

	msg, err := r.rooms.Append(conn.RoomID, connID, r.sanitize.Sanitize(trimmed))
	if err != nil {
		if errors.Is(err, room.ErrNotMember) {
			return ErrNotInRoom
		}
		return err
	}

	r.pres.ClearTyping(conn.RoomID, connID, conn.Username)
	r.toRoomExcept(conn.RoomID, "", event.Marshal(event.TypeNewMessage, msg))
	return nil
}

// Typing records a typing-state change. Silently ignored unless the
// connection is named and in a room, matching the event's fire-and-forget
// nature on the client.
func (r *Router) Typing(connID string, typing bool) {
	conn, ok := r.reg.Get(connID)
	if !ok || conn.Username == "" || conn.RoomID == "" {
		return
	}
	r.pres.SetTyping(conn.RoomID, connID, conn.Username, typing)
}

// toRoomExcept delivers data to every member of roomID except
// exceptConnID. The member list is snapshotted first so no lock is held
// while sending.
func (r *Router) toRoomExcept(roomID, exceptConnID string, data []byte) {
	for _, m := range r.rooms.Members(roomID) {
		if m.ConnID == exceptConnID {
			continue
		}
		r.sender.SendTo(m.ConnID, data)
	}
}

// allowMessage enforces the per-connection message rate.
func (r *Router) allowMessage(connID string) bool {
	if r.msgRate <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(r.msgRate, r.msgBurst)
		r.limiters[connID] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
