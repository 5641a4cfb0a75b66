package repository

import (
	"context"

	"github.com/vedran77/stratchat/internal/domain"
)

// UserRepository is the read-only identity directory.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.User, error)
}

// StrategyRepository is the read-only catalog reference.
type StrategyRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Strategy, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Strategy, error)
}

// ChatRepository owns chat identity. At most one chat exists per
// (strategy, initiator, counterparty).
type ChatRepository interface {
	// FindOrCreate returns the chat for the triple, creating it if needed.
	// An existing chat has its last activity bumped to now. created reports
	// whether this call inserted the row.
	FindOrCreate(ctx context.Context, strategyID, initiatorID, counterpartyID int64) (chat *domain.Chat, created bool, err error)
	// GetByID returns nil, nil when the chat does not exist.
	GetByID(ctx context.Context, id int64) (*domain.Chat, error)
	ListByParticipant(ctx context.Context, userID int64) ([]domain.Chat, error)
}

// MessageRepository is the per-chat message ledger.
type MessageRepository interface {
	// Append stores a new unread message from senderID to the other
	// participant and bumps the chat's last activity.
	Append(ctx context.Context, chatID, senderID int64, content string) (*domain.Message, error)
	// ListByChat returns the full history ordered by created_at, then id.
	ListByChat(ctx context.Context, chatID int64) ([]domain.Message, error)
	// MarkAllReadForRecipient flips every unread message addressed to
	// recipientID in the chat and returns the ids it changed, ascending.
	MarkAllReadForRecipient(ctx context.Context, chatID, recipientID int64) ([]int64, error)
	UnreadCountFor(ctx context.Context, recipientID, chatID int64) (int, error)
	// UnreadCountsFor returns unread counts keyed by chat id. Chats without
	// unread messages may be absent.
	UnreadCountsFor(ctx context.Context, recipientID int64) (map[int64]int, error)
	// LatestByChats returns the newest message of each chat that has one.
	LatestByChats(ctx context.Context, chatIDs []int64) (map[int64]domain.Message, error)
}
