package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/session"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message stamped with at.
func NewMessage(messageType MessageType, data any, at time.Time) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: at,
	}, nil
}

// EventMessage wraps a room event. The message type is the event type.
func EventMessage(e room.Event) (*Message, error) {
	return NewMessage(MessageType(e.EventType()), e, e.Timestamp())
}

// Client → Server Messages

// AuthData carries a token for the configured validator. Nickname and
// Country are only honoured when the validator does not supply them.
type AuthData struct {
	Token    string `json:"token,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Country  string `json:"country,omitempty"`
}

// ReconnectData resumes a disconnected session; same fields as auth.
type ReconnectData = AuthData

type JoinRoomData struct {
	Room string `json:"room,omitempty"`
}

// LeaveRoomData with Quit set ends the session as well as the seat.
type LeaveRoomData struct {
	Quit bool `json:"quit,omitempty"`
}

type ChangeBetData struct {
	Chip      int    `json:"chip"`
	Direction string `json:"direction"`
}

type PlayerActionData struct {
	Action     string `json:"action"`
	Generation uint64 `json:"generation,omitempty"`
}

// Server → Client Messages

type AuthResponseData struct {
	Success  bool   `json:"success"`
	Nickname string `json:"nickname,omitempty"`
	Country  string `json:"country,omitempty"`
	Room     string `json:"room,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RoomJoinedData struct {
	room.Snapshot
	You string `json:"you"`
}

type RoomLeftData struct {
	Room string `json:"room"`
}

type RoomListData struct {
	Rooms []room.Info `json:"rooms"`
}

// errorCode maps an error to the code sent to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNicknameTaken), errors.Is(err, room.ErrSeatTaken):
		return CodeNicknameTaken
	case errors.Is(err, session.ErrInvalidNickname):
		return CodeInvalidNickname
	case errors.Is(err, session.ErrGraceExpired):
		return CodeGraceExpired
	case errors.Is(err, session.ErrUnknownSession):
		return CodeNotAuthenticated
	case errors.Is(err, room.ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, room.ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, room.ErrUnknownSeat):
		return CodeNotSeated
	case errors.Is(err, room.ErrIllegalAction):
		return CodeIllegalAction
	case errors.Is(err, auth.ErrInvalidToken):
		return CodeInvalidToken
	case errors.Is(err, auth.ErrUnavailable):
		return CodeAuthUnavailable
	default:
		return CodeInternal
	}
}
