// Package message defines chat messages and the bounded per-room history
// stores that retain them.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat message. Immutable once created; the timestamp is
// assigned by the server, so ordering within a room is server arrival order.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a message with a fresh ID and the current server time.
func New(roomID, username, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  username,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// HistoryStore is the interface for per-room history backends. History is
// bounded: backends evict oldest-first once capacity is exceeded.
type HistoryStore interface {
	Append(msg Message)
	Recent(roomID string, n int) []Message
	Count(roomID string) int
}
