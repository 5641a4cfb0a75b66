package memory

import (
	"context"

	"github.com/vedran77/stratchat/internal/domain"
)

type UserRepo struct {
	s *Store
}

func (r *UserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *UserRepo) GetByIDs(_ context.Context, ids []int64) (map[int64]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	users := make(map[int64]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := r.s.users[id]; ok {
			users[id] = u
		}
	}
	return users, nil
}

type StrategyRepo struct {
	s *Store
}

func (r *StrategyRepo) GetByID(_ context.Context, id int64) (*domain.Strategy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.strategies[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *StrategyRepo) GetByIDs(_ context.Context, ids []int64) (map[int64]domain.Strategy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	strategies := make(map[int64]domain.Strategy, len(ids))
	for _, id := range ids {
		if st, ok := r.s.strategies[id]; ok {
			strategies[id] = st
		}
	}
	return strategies, nil
}
