package domain

import (
	"time"
)

type Message struct {
	ID         int64     `json:"id"`
	ChatID     int64     `json:"chat_id"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageView is a message with sender and receiver names filled in.
type MessageView struct {
	Message
	SenderName   string `json:"sender_name"`
	ReceiverName string `json:"receiver_name"`
}

// MessagesRead is the read receipt pushed to the other participant.
type MessagesRead struct {
	ChatID     int64   `json:"chat_id"`
	ReaderID   int64   `json:"reader_id"`
	MessageIDs []int64 `json:"message_ids"`
}
