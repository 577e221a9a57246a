package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	sendBufferSize = 256
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection is one client socket. A connection becomes bound to a nickname
// once it authenticates and to a room once the player is seated.
type Connection struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan *Message
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	nickname string
	roomName string

	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, s *Server) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Connection{
		id:     id,
		conn:   conn,
		server: s,
		send:   make(chan *Message, sendBufferSize),
		logger: s.logger.WithPrefix("conn").With("conn", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Nickname returns the authenticated nickname, or "".
func (c *Connection) Nickname() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nickname
}

// RoomName returns the room the connection is listening to, or "".
func (c *Connection) RoomName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomName
}

func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues msg without blocking. A client that cannot keep up is
// disconnected.
func (c *Connection) SendMessage(msg *Message) error {
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Connection send buffer full, closing connection", "nickname", c.Nickname())
		_ = c.Close()
		return ErrConnectionClosed
	}
}

func (c *Connection) setNickname(nickname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nickname = nickname
}

// attach binds the connection to roomName's broadcasts.
func (c *Connection) attach(roomName string) {
	c.mu.Lock()
	prev := c.roomName
	c.roomName = roomName
	c.mu.Unlock()

	if prev != "" && prev != roomName {
		c.server.hub.Remove(prev, c)
	}
	if roomName != "" {
		c.server.hub.Add(roomName, c)
	}
}

func (c *Connection) readPump() {
	defer c.server.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.sendError(nil, CodeInvalidMessage, "Malformed message")
				continue
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "nickname", c.Nickname())

	switch msg.Type {
	case MessageTypeAuth:
		var data AuthData
		if !c.decode(msg, &data) {
			return
		}
		c.handleAuth(msg, data)

	case MessageTypeReconnect:
		var data ReconnectData
		if !c.decode(msg, &data) {
			return
		}
		c.handleReconnect(msg, data)

	case MessageTypeJoinRoom:
		var data JoinRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleJoinRoom(msg, data)

	case MessageTypeLeaveRoom:
		var data LeaveRoomData
		if !c.decode(msg, &data) {
			return
		}
		c.handleLeaveRoom(msg, data)

	case MessageTypeListRooms:
		c.reply(msg, MessageTypeRoomList, RoomListData{Rooms: c.server.lobby.Rooms()})

	case MessageTypeChangeBet:
		var data ChangeBetData
		if !c.decode(msg, &data) {
			return
		}
		c.handleChangeBet(msg, data)

	case MessageTypePlayerAction:
		var data PlayerActionData
		if !c.decode(msg, &data) {
			return
		}
		c.handlePlayerAction(msg, data)

	default:
		c.sendError(msg, CodeUnknownMessageType, "Unknown message type: "+msg.Type.String())
	}
}

// decode unmarshals msg.Data into v, replying with an error on failure.
func (c *Connection) decode(msg *Message, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.sendError(msg, CodeInvalidMessage, "Failed to parse "+msg.Type.String()+" data")
		return false
	}
	return true
}

func (c *Connection) reply(req *Message, t MessageType, data any) {
	msg, err := NewMessage(t, data, c.server.clock.Now())
	if err != nil {
		c.logger.Error("Failed to create message", "type", t, "error", err)
		return
	}
	if req != nil {
		msg.RequestID = req.RequestID
	}
	_ = c.SendMessage(msg)
}

func (c *Connection) sendError(req *Message, code, message string) {
	c.reply(req, MessageTypeError, ErrorData{Code: code, Message: message})
}

func (c *Connection) fail(req *Message, err error) {
	code := errorCode(err)
	if code == CodeInternal {
		c.logger.Error("Request failed", "type", req.Type, "nickname", c.Nickname(), "error", err)
	}
	c.sendError(req, code, err.Error())
}

// requireAuth returns the connection's nickname, replying with an error when
// it has not authenticated.
func (c *Connection) requireAuth(req *Message) (string, bool) {
	nickname := c.Nickname()
	if nickname == "" {
		c.sendError(req, CodeNotAuthenticated, "Must authenticate first")
		return "", false
	}
	return nickname, true
}

// identify resolves the client's identity. Fields the validator leaves
// empty fall back to what the client sent.
func (c *Connection) identify(data AuthData) (auth.Identity, error) {
	id, err := c.server.validator.Validate(c.ctx, data.Token)
	if err != nil {
		return auth.Identity{}, err
	}
	if id == nil {
		return auth.Identity{Nickname: data.Nickname, Country: data.Country}, nil
	}
	out := *id
	if out.Nickname == "" {
		out.Nickname = data.Nickname
	}
	if out.Country == "" {
		out.Country = data.Country
	}
	return out, nil
}

func (c *Connection) handleAuth(req *Message, data AuthData) {
	if c.Nickname() != "" {
		c.sendError(req, CodeAlreadyAuth, "Already authenticated as "+c.Nickname())
		return
	}
	id, err := c.identify(data)
	if err != nil {
		c.fail(req, err)
		return
	}

	s, err := c.server.lobby.Connect(id)
	if err != nil {
		c.fail(req, err)
		return
	}
	c.setNickname(s.Nickname)
	c.logger.Info("Player authenticated", "nickname", s.Nickname, "identity", s.Identity)
	c.reply(req, MessageTypeAuthResponse, AuthResponseData{Success: true, Nickname: s.Nickname, Country: s.Country, Room: s.Room()})

	// A matching identity inside its grace window resumes the old seat.
	if r, ok := c.server.lobby.Room(s.Room()); ok {
		c.attach(r.Name())
		c.reply(req, MessageTypeRoomJoined, RoomJoinedData{Snapshot: r.Snapshot(), You: s.Nickname})
	}
}

func (c *Connection) handleReconnect(req *Message, data ReconnectData) {
	if c.Nickname() != "" {
		c.sendError(req, CodeAlreadyAuth, "Already authenticated as "+c.Nickname())
		return
	}
	id, err := c.identify(data)
	if err != nil {
		c.fail(req, err)
		return
	}

	s, snap, err := c.server.lobby.Resume(id)
	if err != nil {
		c.fail(req, err)
		return
	}
	c.setNickname(s.Nickname)
	c.logger.Info("Player reconnected", "nickname", s.Nickname, "room", snap.Room)
	c.reply(req, MessageTypeAuthResponse, AuthResponseData{Success: true, Nickname: s.Nickname, Country: s.Country, Room: snap.Room})
	if snap.Room != "" {
		c.attach(snap.Room)
		c.reply(req, MessageTypeRoomJoined, RoomJoinedData{Snapshot: snap, You: s.Nickname})
	}
}

func (c *Connection) handleJoinRoom(req *Message, data JoinRoomData) {
	nickname, ok := c.requireAuth(req)
	if !ok {
		return
	}
	snap, err := c.server.lobby.JoinRoom(c.ctx, nickname, data.Room)
	if err != nil {
		c.fail(req, err)
		return
	}
	c.attach(snap.Room)
	c.reply(req, MessageTypeRoomJoined, RoomJoinedData{Snapshot: snap, You: nickname})
}

// handleLeaveRoom stands the player up. With Quit set the session ends too
// and the socket is closed; any hand in play is forfeited.
func (c *Connection) handleLeaveRoom(req *Message, data LeaveRoomData) {
	nickname, ok := c.requireAuth(req)
	if !ok {
		return
	}
	roomName := c.RoomName()
	if data.Quit {
		if err := c.server.lobby.Leave(nickname); err != nil {
			c.fail(req, err)
			return
		}
		c.attach("")
		c.setNickname("")
		c.reply(req, MessageTypeRoomLeft, RoomLeftData{Room: roomName})
		c.logger.Info("Player quit", "nickname", nickname, "room", roomName)
		return
	}

	if err := c.server.lobby.LeaveRoom(nickname); err != nil {
		c.fail(req, err)
		return
	}
	c.attach("")
	c.reply(req, MessageTypeRoomLeft, RoomLeftData{Room: roomName})
}

func (c *Connection) handleChangeBet(req *Message, data ChangeBetData) {
	nickname, ok := c.requireAuth(req)
	if !ok {
		return
	}
	dir, err := room.ParseDirection(data.Direction)
	if err != nil {
		c.fail(req, err)
		return
	}
	if err := c.server.lobby.ChangeBet(nickname, data.Chip, dir); err != nil {
		c.fail(req, err)
	}
}

func (c *Connection) handlePlayerAction(req *Message, data PlayerActionData) {
	nickname, ok := c.requireAuth(req)
	if !ok {
		return
	}
	action, err := room.ParseAction(data.Action)
	if err != nil {
		c.fail(req, err)
		return
	}
	if err := c.server.lobby.PlayerAction(nickname, action, data.Generation); err != nil {
		c.fail(req, err)
	}
}

// disconnect starts the grace period for the connection's player.
func (c *Connection) disconnect() {
	if roomName := c.RoomName(); roomName != "" {
		c.server.hub.Remove(roomName, c)
	}
	nickname := c.Nickname()
	if nickname == "" {
		return
	}
	if err := c.server.lobby.Disconnect(nickname); err != nil && !errors.Is(err, session.ErrUnknownSession) {
		c.logger.Error("Failed to mark player disconnected", "nickname", nickname, "error", err)
	}
}
