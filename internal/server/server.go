// Package server is the WebSocket gateway: it authenticates clients, turns
// their messages into lobby calls and forwards room events back to them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/session"
	"github.com/lox/blackjack/internal/statistics"
)

const shutdownTimeout = 5 * time.Second

// Lobby is what the gateway needs from the game side. *lobby.Lobby
// implements it.
type Lobby interface {
	Connect(id auth.Identity) (*session.Session, error)
	Resume(id auth.Identity) (*session.Session, room.Snapshot, error)
	JoinRoom(ctx context.Context, nickname, roomName string) (room.Snapshot, error)
	LeaveRoom(nickname string) error
	Leave(nickname string) error
	ChangeBet(nickname string, chipIndex int, dir room.Direction) error
	PlayerAction(nickname string, action room.Action, generation uint64) error
	Disconnect(nickname string) error
	Rooms() []room.Info
	Room(name string) (*room.Room, bool)
}

// Server represents the WebSocket server
type Server struct {
	lobby     Lobby
	hub       *Hub
	validator auth.Validator
	clock     quartz.Clock
	stats     *statistics.Collector
	logger    *log.Logger
	upgrader  websocket.Upgrader

	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithValidator sets the token validator. The default trusts the nickname
// the client sends.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithClock sets the clock used to timestamp replies.
func WithClock(clock quartz.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// WithStats serves the collector's summary at /stats. The collector must be
// subscribed to the lobby's rooms.
func WithStats(c *statistics.Collector) Option {
	return func(s *Server) { s.stats = c }
}

// NewServer creates a gateway in front of lobby. hub must be subscribed to
// the lobby's rooms for clients to receive events.
func NewServer(lobby Lobby, hub *Hub, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		lobby:     lobby,
		hub:       hub,
		validator: auth.NewNoopValidator(),
		clock:     quartz.NewReal(),
		logger:    logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			// Browser clients are served from other origins.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/rooms", s.handleRooms)
	if s.stats != nil {
		mux.HandleFunc("/stats", s.handleStats)
	}
	return mux
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// HTTP server down and closes every socket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("WebSocket server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Stop closes every open connection.
func (s *Server) Stop() {
	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// ConnectionCount returns the number of open sockets.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.connections[c] = struct{}{}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client connected", "conn", c.ID(), "total", total)
}

// unregister runs once a connection's read loop ends. The player keeps their
// seat for the grace period.
func (s *Server) unregister(c *Connection) {
	s.mu.Lock()
	_, ok := s.connections[c]
	delete(s.connections, c)
	total := len(s.connections)
	s.mu.Unlock()
	if !ok {
		return
	}

	c.disconnect()
	_ = c.Close()
	s.logger.Info("Client disconnected", "conn", c.ID(), "nickname", c.Nickname(), "total", total)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := newConnection(conn, s)
	s.register(client)
	client.start()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RoomListData{Rooms: s.lobby.Rooms()}); err != nil {
		s.logger.Error("Failed to encode room list", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Summary()); err != nil {
		s.logger.Error("Failed to encode stats", "error", err)
	}
}
