package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/id"
)

const messageColumns = "id, chat_id, sender_id, receiver_id, content, is_read, created_at"

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) Append(ctx context.Context, chatID, senderID int64, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is empty: %w", domain.ErrValidation)
	}

	var msg *domain.Message
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		// Row lock serializes appends into the same chat.
		var chat domain.Chat
		err := tx.QueryRow(ctx,
			"SELECT initiator_id, counterparty_id FROM chats WHERE id = $1 FOR UPDATE", chatID,
		).Scan(&chat.InitiatorID, &chat.CounterpartyID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}

		receiverID, ok := chat.Other(senderID)
		if !ok {
			return fmt.Errorf("sender %d is not a participant of chat %d: %w", senderID, chatID, domain.ErrValidation)
		}

		msg = &domain.Message{
			ID:         id.New(),
			ChatID:     chatID,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
			CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
			msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}

		_, err = tx.Exec(ctx, "UPDATE chats SET last_activity_at = $1 WHERE id = $2", msg.CreatedAt, chatID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *MessageRepo) ListByChat(ctx context.Context, chatID int64) ([]domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkAllReadForRecipient relies on the is_read = FALSE predicate: each row
// flips exactly once, so concurrent calls never report the same id twice and
// a message committed after the statement's snapshot stays unread.
func (r *MessageRepo) MarkAllReadForRecipient(ctx context.Context, chatID, recipientID int64) ([]int64, error) {
	query := `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND receiver_id = $2 AND is_read = FALSE
		RETURNING id`

	rows, err := r.pool.Query(ctx, query, chatID, recipientID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *MessageRepo) UnreadCountFor(ctx context.Context, recipientID, chatID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND receiver_id = $2 AND is_read = FALSE",
		chatID, recipientID,
	).Scan(&count)
	return count, err
}

func (r *MessageRepo) UnreadCountsFor(ctx context.Context, recipientID int64) (map[int64]int, error) {
	query := `
		SELECT chat_id, COUNT(*)
		FROM messages
		WHERE receiver_id = $1 AND is_read = FALSE
		GROUP BY chat_id`

	rows, err := r.pool.Query(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var chatID int64
		var count int
		if err := rows.Scan(&chatID, &count); err != nil {
			return nil, err
		}
		counts[chatID] = count
	}
	return counts, rows.Err()
}

func (r *MessageRepo) LatestByChats(ctx context.Context, chatIDs []int64) (map[int64]domain.Message, error) {
	latest := make(map[int64]domain.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return latest, nil
	}

	query := `
		SELECT DISTINCT ON (chat_id) ` + messageColumns + `
		FROM messages
		WHERE chat_id = ANY($1)
		ORDER BY chat_id, created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, chatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		latest[m.ChatID] = m
	}
	return latest, rows.Err()
}
