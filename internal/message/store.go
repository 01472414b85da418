package message

import "sync"

// Store keeps recent messages per room in memory. It is the default
// history backend for a single-process deployment.
type Store struct {
	mu      sync.RWMutex
	rooms   map[string][]Message
	maxSize int
}

// NewStore creates a store that retains up to maxSize messages per room.
func NewStore(maxSize int) *Store {
	return &Store{
		rooms:   make(map[string][]Message),
		maxSize: maxSize,
	}
}

// Append adds a message to its room's history, evicting the oldest
// entries once the capacity is exceeded.
func (s *Store) Append(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.rooms[msg.RoomID], msg)
	if len(msgs) > s.maxSize {
		msgs = msgs[len(msgs)-s.maxSize:]
	}
	s.rooms[msg.RoomID] = msgs
}

// Recent returns up to the last n messages for a room, oldest first.
func (s *Store) Recent(roomID string, n int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.rooms[roomID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	result := make([]Message, len(msgs))
	copy(result, msgs)
	return result
}

// Count returns the number of stored messages for a room.
func (s *Store) Count(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}
