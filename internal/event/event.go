// Package event defines the wire protocol shared by the transport and the
// router: a type-tagged JSON envelope plus the payloads for every client
// and server event.
package event

import (
	"encoding/json"
	"log"

	"github.com/ncolvin/parlor/internal/message"
)

// Client-to-server event types.
const (
	TypeSetUsername = "set_username"
	TypeGetRooms    = "get_rooms"
	TypeJoinRoom    = "join_room"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
)

// Server-to-client event types.
const (
	TypeUsernameSet = "username_set"
	TypeRoomsList   = "rooms_list"
	TypeJoinedRoom  = "joined_room"
	TypeUserJoined  = "user_joined"
	TypeUserLeft    = "user_left"
	TypeNewMessage  = "new_message"
	TypeUserTyping  = "user_typing"
	TypeError       = "error"
)

// Envelope is the JSON structure exchanged over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SetUsernamePayload is sent by the client to claim a display name.
type SetUsernamePayload struct {
	Username string `json:"username"`
}

// JoinRoomPayload is sent by the client to join (or switch to) a room.
type JoinRoomPayload struct {
	Room string `json:"room"`
}

// SendMessagePayload is sent by the client to post a message.
type SendMessagePayload struct {
	Message string `json:"message"`
}

// TypingPayload is sent by the client when it starts or stops composing.
type TypingPayload struct {
	Typing bool `json:"typing"`
}

// UsernameSetPayload confirms a claimed display name to the sender.
type UsernameSetPayload struct {
	Username string `json:"username"`
}

// RoomInfo summarizes one room for the rooms listing.
type RoomInfo struct {
	Name         string `json:"name"`
	UserCount    int    `json:"user_count"`
	MessageCount int    `json:"message_count"`
}

// JoinedRoomPayload is sent to a client that joined a room.
type JoinedRoomPayload struct {
	Room     string            `json:"room"`
	RoomName string            `json:"room_name"`
	Users    []string          `json:"users"`
	Messages []message.Message `json:"messages"`
}

// PresencePayload announces a join or leave to the other room members.
type PresencePayload struct {
	Username  string `json:"username"`
	UserCount int    `json:"user_count"`
}

// UserTypingPayload announces a typing-state change to the other room members.
type UserTypingPayload struct {
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// ErrorPayload reports a failure to the originating connection only.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Sender delivers an encoded event to a single connection. Implemented by
// the transport's connection manager; fakes implement it in tests.
type Sender interface {
	SendTo(connID string, data []byte)
}

// Marshal encodes a payload into an envelope of the given type. Payloads
// are plain structs, so marshalling only fails on programmer error; it is
// logged and an empty envelope body returned rather than propagated.
func Marshal(eventType string, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("event: failed to marshal %s payload: %v", eventType, err)
		data = nil
	}
	env, err := json.Marshal(Envelope{Type: eventType, Payload: data})
	if err != nil {
		log.Printf("event: failed to marshal %s envelope: %v", eventType, err)
		return nil
	}
	return env
}

// Error encodes an error event.
func Error(msg string) []byte {
	return Marshal(TypeError, ErrorPayload{Message: msg})
}
