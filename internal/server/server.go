// Package server wires the chat core to HTTP: the WebSocket endpoint,
// a health check, and the read-only rooms API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncolvin/parlor/internal/config"
	"github.com/ncolvin/parlor/internal/message"
	"github.com/ncolvin/parlor/internal/ratelimit"
	"github.com/ncolvin/parlor/internal/room"
	"github.com/ncolvin/parlor/internal/router"
	"github.com/ncolvin/parlor/internal/user"
	"github.com/ncolvin/parlor/internal/ws"
)

// Server is the main HTTP server.
type Server struct {
	cfg   *config.Config
	mux   *http.ServeMux
	http  *http.Server
	rooms *room.Store
	conns *ws.ConnManager
	redis redis.Cmdable
}

// Option configures a Server.
type Option func(*Server)

// WithRedis backs room history with Redis instead of process memory.
func WithRedis(client redis.Cmdable) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// New assembles a Server from the configuration.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var history message.HistoryStore
	if s.redis != nil {
		history = message.NewRedisStore(s.redis, cfg.History.Capacity)
	} else {
		history = message.NewStore(cfg.History.Capacity)
	}

	defs := make([]room.Def, len(cfg.Rooms))
	for i, r := range cfg.Rooms {
		defs[i] = room.Def{ID: r.ID, Name: r.Name}
	}
	s.rooms = room.NewStore(defs, history, cfg.History.JoinLimit)

	s.conns = ws.NewConnManager(
		ws.WithMaxConns(cfg.Conn.MaxConns),
		ws.WithIdleTimeout(cfg.Conn.IdleTimeout.Std()),
	)

	rt := router.New(user.NewRegistry(), user.NewDirectory(), s.rooms, s.conns, router.Config{
		MaxMessageLen: cfg.Message.MaxLength,
		MessageRate:   cfg.Message.Rate,
		MessageBurst:  cfg.Message.Burst,
		TypingTTL:     cfg.TypingTTL.Std(),
	})

	wsHandler := ws.NewHandler(rt, s.conns, cfg.AllowedOrigins)
	ipLimit := ratelimit.NewIPLimiter(cfg.IPLimit.Requests, cfg.IPLimit.Window.Std())

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	s.mux.HandleFunc("GET /api/rooms/{id}/messages", s.handleRoomMessages)
	s.mux.Handle("GET /ws", ipLimit.Middleware(wsHandler))

	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.mux,
	}
	return s
}

// Handler exposes the routing mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections, closes all WebSocket
// clients, and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.conns.Shutdown()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "parlor",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rooms.List())
}

// defaultMessagesLimit caps how much history the REST endpoint returns
// when no limit parameter is given.
const defaultMessagesLimit = 50

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.rooms.Recent(r.PathValue("id"), limit)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Room not found"})
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
