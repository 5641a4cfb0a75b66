package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types - Client → Server
const (
	EventTypeJoinChat  = "join_chat"
	EventTypeLeaveChat = "leave_chat"
	EventTypeTyping    = "typing"
	EventTypePing      = "ping"
)

// Event types - Server → Client
const (
	EventTypeConnected    = "connected"
	EventTypeJoinedChat   = "joined_chat"
	EventTypeLeftChat     = "left_chat"
	EventTypeThreadOpened = "thread_opened"
	EventTypeNewMessage   = "new_message"
	EventTypeMessagesRead = "messages_read"
	EventTypeUnreadCount  = "unread_count_update"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Error codes carried in error events.
const (
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	ErrCodeUnknownEvent   = "UNKNOWN_EVENT"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeInternal       = "INTERNAL"
)

// UserRoom is the room every connection of a user is subscribed to.
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// ChatRoom is the room of connections currently viewing a chat.
func ChatRoom(chatID int64) string {
	return fmt.Sprintf("thread:%d", chatID)
}

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type JoinPayload struct {
	ChatID int64  `json:"chat_id"`
	Role   string `json:"role,omitempty"`
}

type ChatPayload struct {
	ChatID int64 `json:"chat_id"`
}

// --- Server → Client payloads ---

type ConnectedPayload struct {
	SessionID uuid.UUID `json:"session_id"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Rooms     []string  `json:"rooms"`
}

type JoinedPayload struct {
	ChatID int64  `json:"chat_id"`
	Role   string `json:"role"`
}

type TypingPayload struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType, room string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Room:      room,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
