// Package room holds the fixed room catalog, per-room membership, and the
// glue to each room's bounded message history.
package room

import (
	"errors"
	"sort"
	"sync"

	"github.com/ncolvin/parlor/internal/message"
)

// Room store errors.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("connection is not a member of this room")
)

// Room is one entry in the fixed catalog. Members maps connection IDs to
// the username they joined with.
type Room struct {
	ID      string
	Name    string
	members map[string]string
}

// Member identifies one room member for fan-out.
type Member struct {
	ConnID   string
	Username string
}

// Info is a point-in-time summary of a room for listings.
type Info struct {
	Name         string `json:"name"`
	UserCount    int    `json:"user_count"`
	MessageCount int    `json:"message_count"`
}

// Snapshot is what a joining connection receives: the room's identity,
// current member usernames, and recent history (oldest first).
type Snapshot struct {
	RoomID   string
	Name     string
	Users    []string
	Messages []message.Message
}

// Departure reports the room a connection left and the member count
// after its removal.
type Departure struct {
	RoomID   string
	Username string
	Count    int
}

// Store owns room membership. A connection is a member of at most one
// room; Join atomically moves it. One mutex serializes all membership
// mutation, which keeps counts exact and makes the membership check in
// Append reliable against a racing disconnect.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	current map[string]string // connection ID -> room ID
	history message.HistoryStore
	// joinLimit bounds how much history a Snapshot carries.
	joinLimit int
}

// Def describes one catalog entry at construction time.
type Def struct {
	ID   string
	Name string
}

// NewStore creates a store with a fixed catalog and the given history backend.
func NewStore(defs []Def, history message.HistoryStore, joinLimit int) *Store {
	rooms := make(map[string]*Room, len(defs))
	for _, d := range defs {
		rooms[d.ID] = &Room{
			ID:      d.ID,
			Name:    d.Name,
			members: make(map[string]string),
		}
	}
	return &Store{
		rooms:     rooms,
		current:   make(map[string]string),
		history:   history,
		joinLimit: joinLimit,
	}
}

// List returns a snapshot of the catalog keyed by room ID. Counts equal
// the member-set sizes at the instant of computation.
func (s *Store) List() map[string]Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]Info, len(s.rooms))
	for id, r := range s.rooms {
		result[id] = Info{
			Name:         r.Name,
			UserCount:    len(r.members),
			MessageCount: s.history.Count(id),
		}
	}
	return result
}

// Join adds the connection to roomID, first removing it from any room it
// currently occupies. The returned Departure is the zero value when the
// connection was not previously in a room.
func (s *Store) Join(roomID, connID, username string) (Snapshot, Departure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Snapshot{}, Departure{}, ErrRoomNotFound
	}

	dep := s.leaveLocked(connID)

	r.members[connID] = username
	s.current[connID] = roomID

	users := make([]string, 0, len(r.members))
	for _, name := range r.members {
		users = append(users, name)
	}
	sort.Strings(users)

	snap := Snapshot{
		RoomID:   roomID,
		Name:     r.Name,
		Users:    users,
		Messages: s.history.Recent(roomID, s.joinLimit),
	}
	if snap.Messages == nil {
		snap.Messages = []message.Message{}
	}
	return snap, dep, nil
}

// Leave removes the connection from whatever room it occupies. The second
// return value is false if it was not in any room.
func (s *Store) Leave(connID string) (Departure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep := s.leaveLocked(connID)
	return dep, dep.RoomID != ""
}

// leaveLocked removes connID from its current room. Caller holds mu.
func (s *Store) leaveLocked(connID string) Departure {
	roomID, ok := s.current[connID]
	if !ok {
		return Departure{}
	}
	delete(s.current, connID)
	r := s.rooms[roomID]
	username := r.members[connID]
	delete(r.members, connID)
	return Departure{RoomID: roomID, Username: username, Count: len(r.members)}
}

// Append validates membership and appends a message with a server-assigned
// ID and timestamp. The membership check happens under the store lock, so
// a send that races disconnect cleanup fails ErrNotMember instead of
// broadcasting on behalf of a connection that is already gone.
func (s *Store) Append(roomID, connID, text string) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return message.Message{}, ErrRoomNotFound
	}
	username, member := r.members[connID]
	if !member {
		return message.Message{}, ErrNotMember
	}

	msg := message.New(roomID, username, text)
	s.history.Append(msg)
	return msg, nil
}

// Members returns the fan-out list for a room. Unknown rooms return nil.
func (s *Store) Members(roomID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	result := make([]Member, 0, len(r.members))
	for connID, name := range r.members {
		result = append(result, Member{ConnID: connID, Username: name})
	}
	return result
}

// Recent returns up to n recent messages for a room, oldest first.
func (s *Store) Recent(roomID string, n int) ([]message.Message, error) {
	s.mu.RLock()
	_, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s.history.Recent(roomID, n), nil
}
