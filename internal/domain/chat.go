package domain

import (
	"time"
)

// Participant roles within a chat. The initiator is the user who opened the
// chat, the counterparty is the user they reached out to.
const (
	RoleInitiator    = "initiator"
	RoleCounterparty = "counterparty"
)

type Chat struct {
	ID             int64     `json:"id"`
	StrategyID     int64     `json:"strategy_id"`
	InitiatorID    int64     `json:"initiator_id"`
	CounterpartyID int64     `json:"counterparty_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// HasParticipant reports whether userID is one of the two chat members.
func (c *Chat) HasParticipant(userID int64) bool {
	return c.InitiatorID == userID || c.CounterpartyID == userID
}

// Other returns the participant that is not userID. ok is false when userID
// is not a participant.
func (c *Chat) Other(userID int64) (other int64, ok bool) {
	switch userID {
	case c.InitiatorID:
		return c.CounterpartyID, true
	case c.CounterpartyID:
		return c.InitiatorID, true
	}
	return 0, false
}

// RoleOf returns the role userID holds in the chat, or "" if none.
func (c *Chat) RoleOf(userID int64) string {
	switch userID {
	case c.InitiatorID:
		return RoleInitiator
	case c.CounterpartyID:
		return RoleCounterparty
	}
	return ""
}

// NormalizeRole maps the legacy client role names onto the chat roles.
// "user" is the initiator and "creator" the strategy-side counterparty.
func NormalizeRole(role string) string {
	switch role {
	case RoleInitiator, "user":
		return RoleInitiator
	case RoleCounterparty, "creator":
		return RoleCounterparty
	}
	return role
}

// ChatView is a chat with participant and strategy names filled in.
type ChatView struct {
	Chat
	StrategyName     string `json:"strategy_name"`
	InitiatorName    string `json:"initiator_name"`
	CounterpartyName string `json:"counterparty_name"`
}

// ChatSummary is a row of the chat list.
type ChatSummary struct {
	ChatView
	UnreadCount       int        `json:"unread_count"`
	LastMessage       string     `json:"last_message"`
	LastMessageSender *int64     `json:"last_message_sender_id,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
}

type ReadResult struct {
	ChatID    int64 `json:"chat_id"`
	ReadCount int   `json:"read_count"`
}

type UnreadCount struct {
	ChatID      int64 `json:"chat_id"`
	UnreadCount int   `json:"unread_count"`
}
