package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/id"
)

const (
	uniqueViolation      = "23505"
	uniqueChatConstraint = "unique_chat"
)

const chatColumns = "id, strategy_id, initiator_id, counterparty_id, created_at, last_activity_at"

type ChatRepo struct {
	pool *pgxpool.Pool
}

func NewChatRepo(pool *pgxpool.Pool) *ChatRepo {
	return &ChatRepo{pool: pool}
}

func (r *ChatRepo) FindOrCreate(ctx context.Context, strategyID, initiatorID, counterpartyID int64) (*domain.Chat, bool, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)

	chat, err := r.touch(ctx, strategyID, initiatorID, counterpartyID, now)
	if err != nil {
		return nil, false, err
	}
	if chat != nil {
		return chat, false, nil
	}

	chat = &domain.Chat{
		ID:             id.New(),
		StrategyID:     strategyID,
		InitiatorID:    initiatorID,
		CounterpartyID: counterpartyID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	err = r.insert(ctx, chat)
	if errors.Is(err, domain.ErrConflict) {
		// Lost the race against a concurrent first contact; the winner's row
		// is the chat.
		chat, err = r.touch(ctx, strategyID, initiatorID, counterpartyID, now)
		if err != nil {
			return nil, false, err
		}
		if chat == nil {
			return nil, false, fmt.Errorf("chat vanished after conflict: %w", domain.ErrNotFound)
		}
		return chat, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// touch bumps last activity of the chat for the triple and returns it, or
// nil if no such chat exists.
func (r *ChatRepo) touch(ctx context.Context, strategyID, initiatorID, counterpartyID int64, at time.Time) (*domain.Chat, error) {
	query := `
		UPDATE chats SET last_activity_at = $4
		WHERE strategy_id = $1 AND initiator_id = $2 AND counterparty_id = $3
		RETURNING ` + chatColumns
	chat, err := scanChat(r.pool.QueryRow(ctx, query, strategyID, initiatorID, counterpartyID, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return chat, err
}

func (r *ChatRepo) insert(ctx context.Context, chat *domain.Chat) error {
	query := `
		INSERT INTO chats (` + chatColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		chat.ID, chat.StrategyID, chat.InitiatorID, chat.CounterpartyID, chat.CreatedAt, chat.LastActivityAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == uniqueChatConstraint {
		return domain.ErrConflict
	}
	return err
}

func (r *ChatRepo) GetByID(ctx context.Context, id int64) (*domain.Chat, error) {
	chat, err := scanChat(r.pool.QueryRow(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return chat, err
}

func (r *ChatRepo) ListByParticipant(ctx context.Context, userID int64) ([]domain.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE initiator_id = $1 OR counterparty_id = $1
		ORDER BY last_activity_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	return chats, rows.Err()
}

func scanChat(row pgx.Row) (*domain.Chat, error) {
	var c domain.Chat
	err := row.Scan(&c.ID, &c.StrategyID, &c.InitiatorID, &c.CounterpartyID, &c.CreatedAt, &c.LastActivityAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
