package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/stratchat/internal/domain"
)

type StrategyRepo struct {
	pool *pgxpool.Pool
}

func NewStrategyRepo(pool *pgxpool.Pool) *StrategyRepo {
	return &StrategyRepo{pool: pool}
}

func (r *StrategyRepo) GetByID(ctx context.Context, id int64) (*domain.Strategy, error) {
	var s domain.Strategy
	err := r.pool.QueryRow(ctx, "SELECT id, name, owner_id FROM strategy WHERE id = $1", id).Scan(
		&s.ID, &s.Name, &s.OwnerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &s, err
}

func (r *StrategyRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]domain.Strategy, error) {
	strategies := make(map[int64]domain.Strategy, len(ids))
	if len(ids) == 0 {
		return strategies, nil
	}

	rows, err := r.pool.Query(ctx, "SELECT id, name, owner_id FROM strategy WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s domain.Strategy
		if err := rows.Scan(&s.ID, &s.Name, &s.OwnerID); err != nil {
			return nil, err
		}
		strategies[s.ID] = s
	}
	return strategies, rows.Err()
}
