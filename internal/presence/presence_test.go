package presence

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ncolvin/parlor/internal/event"
	"github.com/ncolvin/parlor/internal/user"
)

// recorded is one captured notification.
type recorded struct {
	roomID string
	except string
	env    event.Envelope
}

// recorder captures fan-out calls for assertions.
type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) notify(roomID, exceptConnID string, data []byte) {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	r.mu.Lock()
	r.calls = append(r.calls, recorded{roomID: roomID, except: exceptConnID, env: env})
	r.mu.Unlock()
}

func (r *recorder) byType(eventType string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []recorded
	for _, c := range r.calls {
		if c.env.Type == eventType {
			result = append(result, c)
		}
	}
	return result
}

func newTestCoordinator(t *testing.T, ttl time.Duration) (*Coordinator, *recorder, *user.Registry) {
	t.Helper()
	rec := &recorder{}
	reg := user.NewRegistry()
	return NewCoordinator(reg, rec.notify, ttl), rec, reg
}

func TestJoinedNotifiesOthers(t *testing.T) {
	c, rec, _ := newTestCoordinator(t, 0)

	c.Joined("general", "conn1", "alice", 2)

	calls := rec.byType(event.TypeUserJoined)
	if len(calls) != 1 {
		t.Fatalf("expected 1 user_joined, got %d", len(calls))
	}
	if calls[0].roomID != "general" || calls[0].except != "conn1" {
		t.Errorf("expected broadcast to general excluding conn1, got %+v", calls[0])
	}

	var p event.PresencePayload
	if err := json.Unmarshal(calls[0].env.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Username != "alice" || p.UserCount != 2 {
		t.Errorf("expected alice/2, got %+v", p)
	}
}

func TestLeftNotifiesOthers(t *testing.T) {
	c, rec, _ := newTestCoordinator(t, 0)

	c.Left("general", "conn1", "alice", 1)

	calls := rec.byType(event.TypeUserLeft)
	if len(calls) != 1 {
		t.Fatalf("expected 1 user_left, got %d", len(calls))
	}
	var p event.PresencePayload
	if err := json.Unmarshal(calls[0].env.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Username != "alice" || p.UserCount != 1 {
		t.Errorf("expected alice/1, got %+v", p)
	}
}

func TestSetTypingDeduplicates(t *testing.T) {
	c, rec, reg := newTestCoordinator(t, 0)
	conn := reg.Register()

	c.SetTyping("general", conn.ID, "alice", true)
	c.SetTyping("general", conn.ID, "alice", true)
	c.SetTyping("general", conn.ID, "alice", true)

	if got := len(rec.byType(event.TypeUserTyping)); got != 1 {
		t.Fatalf("expected 1 typing broadcast for repeated true, got %d", got)
	}

	c.SetTyping("general", conn.ID, "alice", false)
	c.SetTyping("general", conn.ID, "alice", false)

	calls := rec.byType(event.TypeUserTyping)
	if len(calls) != 2 {
		t.Fatalf("expected 2 typing broadcasts total, got %d", len(calls))
	}

	var p event.UserTypingPayload
	if err := json.Unmarshal(calls[1].env.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Typing {
		t.Error("expected final broadcast to be typing=false")
	}
}

func TestTypingExpiresAfterTTL(t *testing.T) {
	c, rec, reg := newTestCoordinator(t, 30*time.Millisecond)
	conn := reg.Register()

	c.SetTyping("general", conn.ID, "alice", true)

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.byType(event.TypeUserTyping)) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	calls := rec.byType(event.TypeUserTyping)
	if len(calls) != 2 {
		t.Fatalf("expected typing=true then expiry broadcast, got %d calls", len(calls))
	}
	var p event.UserTypingPayload
	if err := json.Unmarshal(calls[1].env.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Typing {
		t.Error("expected expiry broadcast to be typing=false")
	}

	final, _ := reg.Get(conn.ID)
	if final.Typing {
		t.Error("expected registry typing flag cleared after expiry")
	}
}

func TestClearTypingBroadcastsOnlyWhenSet(t *testing.T) {
	c, rec, reg := newTestCoordinator(t, 0)
	conn := reg.Register()

	c.ClearTyping("general", conn.ID, "alice")
	if got := len(rec.byType(event.TypeUserTyping)); got != 0 {
		t.Fatalf("expected no broadcast for clear while idle, got %d", got)
	}

	c.SetTyping("general", conn.ID, "alice", true)
	c.ClearTyping("general", conn.ID, "alice")

	calls := rec.byType(event.TypeUserTyping)
	if len(calls) != 2 {
		t.Fatalf("expected true then false broadcasts, got %d", len(calls))
	}
}

func TestDisconnectedClearsTyping(t *testing.T) {
	c, rec, reg := newTestCoordinator(t, 0)
	conn := reg.Register()

	c.SetTyping("general", conn.ID, "alice", true)

	// Simulate teardown: the registry entry is already gone, so the
	// final snapshot carries the typing flag.
	final, _ := reg.Unregister(conn.ID)
	final.RoomID = "general"
	c.Disconnected(final)

	calls := rec.byType(event.TypeUserTyping)
	if len(calls) != 2 {
		t.Fatalf("expected typing=false on disconnect, got %d calls", len(calls))
	}
	var p event.UserTypingPayload
	if err := json.Unmarshal(calls[1].env.Payload, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.Typing {
		t.Error("expected disconnect broadcast to be typing=false")
	}
}

func TestLeftClearsLiveTypingFirst(t *testing.T) {
	c, rec, reg := newTestCoordinator(t, 0)
	conn := reg.Register()

	c.SetTyping("general", conn.ID, "alice", true)
	c.Left("general", conn.ID, "alice", 0)

	typing := rec.byType(event.TypeUserTyping)
	if len(typing) != 2 {
		t.Fatalf("expected typing cleared on leave, got %d typing calls", len(typing))
	}
	if len(rec.byType(event.TypeUserLeft)) != 1 {
		t.Fatal("expected user_left broadcast")
	}

	// The typing=false must precede the user_left.
	rec.mu.Lock()
	last := rec.calls[len(rec.calls)-1]
	rec.mu.Unlock()
	if last.env.Type != event.TypeUserLeft {
		t.Errorf("expected user_left last, got %s", last.env.Type)
	}
}
