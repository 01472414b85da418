// Package ws is the WebSocket transport: it upgrades connections, runs
// per-client read loops, and manages buffered delivery to each client.
package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of events that can be queued per client.
	sendBufferSize = 32

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// idleCheckInterval is how often the idle reaper runs.
	idleCheckInterval = 30 * time.Second
)

// Client is one connected WebSocket peer, keyed by its connection ID.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an accepted WebSocket connection.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{id: id, conn: conn}
}

// connEntry holds per-connection metadata alongside the cancel function.
type connEntry struct {
	client      *Client
	cancel      context.CancelFunc
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active        int
	MaxConns      int
	Rejected      int64
	DroppedEvents int64
	IdleReaped    int64
}

// ConnManager tracks active connections by ID and provides lifecycle
// management: per-client buffered send channels with write pumps,
// connection limits, idle reaping, and graceful shutdown. It is the
// router's event.Sender.
type ConnManager struct {
	mu       sync.Mutex
	clients  map[string]*connEntry
	closed   bool
	maxConns int
	idleTTL  time.Duration
	stopIdle context.CancelFunc

	rejected      atomic.Int64
	droppedEvents atomic.Int64
	idleReaped    atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout sets how long a connection can be idle before it is
// closed. A value of 0 disables idle reaping (default).
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTTL = d
	}
}

// NewConnManager creates a connection manager.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients: make(map[string]*connEntry),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Add registers a client and starts its write pump. The returned context
// is cancelled when the client is removed or the manager shuts down;
// read loops should select on it. Returns a cancelled context if the
// manager is closed or at capacity.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}

	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}

	now := time.Now()
	c.send = make(chan []byte, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c.id] = &connEntry{
		client:      c,
		cancel:      cancel,
		connectedAt: now,
		lastActive:  now,
	}

	go cm.writePump(ctx, c)

	return ctx
}

// Remove stops the client's write pump and cleans it up.
func (cm *ConnManager) Remove(id string) {
	cm.mu.Lock()
	entry, ok := cm.clients[id]
	if ok {
		delete(cm.clients, id)
	}
	cm.mu.Unlock()

	if ok {
		entry.cancel()
		close(entry.client.send)
	}
}

// SendTo queues an event for delivery to the connection. Events for
// unknown connections are dropped; a full buffer (slow consumer) drops
// the event and counts it. The channel send happens under the lock so it
// cannot race Remove closing the channel.
func (cm *ConnManager) SendTo(id string, data []byte) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	entry, ok := cm.clients[id]
	if !ok {
		return
	}
	select {
	case entry.client.send <- data:
	default:
		cm.droppedEvents.Add(1)
		log.Printf("ws: send buffer full for connection %s, dropping event", id)
	}
}

// TouchActivity updates the last-active timestamp for a connection so
// the idle reaper leaves it alone.
func (cm *ConnManager) TouchActivity(id string) {
	cm.mu.Lock()
	if entry, ok := cm.clients[id]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	maxConns := cm.maxConns
	cm.mu.Unlock()
	return ConnStats{
		Active:        active,
		MaxConns:      maxConns,
		Rejected:      cm.rejected.Load(),
		DroppedEvents: cm.droppedEvents.Load(),
		IdleReaped:    cm.idleReaped.Load(),
	}
}

// Shutdown gracefully closes all connections: every write pump is
// cancelled and each WebSocket closed with StatusGoingAway.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	entries := make([]*connEntry, 0, len(cm.clients))
	for _, entry := range cm.clients {
		entries = append(entries, entry)
	}
	cm.clients = make(map[string]*connEntry)
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}

	for _, entry := range entries {
		entry.cancel()
		close(entry.client.send)
		entry.client.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// idleReapLoop periodically closes idle connections.
func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle()
		}
	}
}

// reapIdle closes connections that have been idle longer than idleTTL.
func (cm *ConnManager) reapIdle() {
	cm.mu.Lock()
	now := time.Now()
	var stale []*connEntry
	for id, entry := range cm.clients {
		if now.Sub(entry.lastActive) > cm.idleTTL {
			stale = append(stale, entry)
			delete(cm.clients, id)
		}
	}
	cm.mu.Unlock()

	for _, entry := range stale {
		entry.cancel()
		close(entry.client.send)
		entry.client.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		cm.idleReaped.Add(1)
		log.Printf("ws: reaped idle connection %s", entry.client.id)
	}
}

// writePump drains the client's send channel, writing each event to the
// WebSocket. It exits when ctx is cancelled or the channel is closed.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("ws: write to connection %s failed: %v", c.id, err)
				return
			}
		}
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
