package server

// Room events (seat_joined, tick, payout, ...) are defined in
// internal/room/events.go and are forwarded as messages of the same type.

// MessageType represents a WebSocket message type with type safety
type MessageType string

// WebSocket message type constants
const (
	// Client to server messages
	MessageTypeAuth         MessageType = "auth"
	MessageTypeJoinRoom     MessageType = "join_room"
	MessageTypeLeaveRoom    MessageType = "leave_room"
	MessageTypeListRooms    MessageType = "list_rooms"
	MessageTypeChangeBet    MessageType = "change_bet"
	MessageTypePlayerAction MessageType = "player_action"
	MessageTypeReconnect    MessageType = "reconnect"

	// Server to client messages
	MessageTypeError        MessageType = "error"
	MessageTypeAuthResponse MessageType = "auth_response"
	MessageTypeRoomJoined   MessageType = "room_joined"
	MessageTypeRoomLeft     MessageType = "room_left"
	MessageTypeRoomList     MessageType = "room_list"
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}

// Error codes sent in error messages.
const (
	CodeInvalidMessage      = "invalid_message"
	CodeUnknownMessageType  = "unknown_message_type"
	CodeNotAuthenticated    = "not_authenticated"
	CodeAlreadyAuth         = "already_authenticated"
	CodeInvalidToken        = "invalid_token"
	CodeAuthUnavailable     = "auth_unavailable"
	CodeInvalidNickname     = "invalid_nickname"
	CodeNicknameTaken       = "nickname_taken"
	CodeGraceExpired        = "grace_expired"
	CodeRoomFull            = "room_full"
	CodeNotSeated           = "not_seated"
	CodeIllegalAction       = "illegal_action"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInternal            = "internal_error"
)
