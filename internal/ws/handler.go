package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/ncolvin/parlor/internal/event"
	"github.com/ncolvin/parlor/internal/router"
)

// Handler upgrades HTTP requests to WebSockets and runs each client's
// read loop, dispatching envelopes to the router.
type Handler struct {
	router  *router.Router
	conns   *ConnManager
	origins []string
}

// NewHandler creates a Handler. origins are the allowed Origin patterns;
// empty means all origins are accepted (dev mode).
func NewHandler(rt *router.Router, conns *ConnManager, origins []string) *Handler {
	return &Handler{
		router:  rt,
		conns:   conns,
		origins: origins,
	}
}

// ServeHTTP upgrades the connection, registers it with the router, and
// reads events until the client goes away. Disconnect cleanup is
// guaranteed on every exit path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.origins) == 0 {
		opts.InsecureSkipVerify = true // Allow all origins in dev; tighten in production.
	} else {
		opts.OriginPatterns = h.origins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	uc := h.router.Connect()
	client := NewClient(uc.ID, conn)
	connCtx := h.conns.Add(client)
	defer func() {
		h.router.Disconnect(uc.ID)
		h.conns.Remove(uc.ID)
	}()

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop reads envelopes from the client until the connection closes
// or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		h.conns.TouchActivity(client.id)

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.conns.SendTo(client.id, event.Error("invalid JSON"))
			continue
		}

		h.dispatch(client.id, env)
	}
}

// dispatch routes one client envelope to the matching router operation.
// Operation errors go back to the offending connection only.
func (h *Handler) dispatch(connID string, env event.Envelope) {
	var err error
	switch env.Type {
	case event.TypeSetUsername:
		var p event.SetUsernamePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.router.SetUsername(connID, p.Username)
		}
	case event.TypeGetRooms:
		err = h.router.Rooms(connID)
	case event.TypeJoinRoom:
		var p event.JoinRoomPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.router.Join(connID, p.Room)
		}
	case event.TypeSendMessage:
		var p event.SendMessagePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = h.router.SendMessage(connID, p.Message)
		}
	case event.TypeTyping:
		var p event.TypingPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			h.router.Typing(connID, p.Typing)
		}
	default:
		h.conns.SendTo(connID, event.Error("unknown event type: "+env.Type))
		return
	}

	if err != nil {
		h.conns.SendTo(connID, event.Error(err.Error()))
	}
}
