package memory

import (
	"context"
	"sort"

	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/id"
)

type ChatRepo struct {
	s *Store
}

// FindOrCreate holds the store lock across lookup and insert, which plays
// the role of the unique constraint: concurrent first contacts for the same
// triple see a single chat.
func (r *ChatRepo) FindOrCreate(_ context.Context, strategyID, initiatorID, counterpartyID int64) (*domain.Chat, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	key := tripleKey{strategyID, initiatorID, counterpartyID}

	if chatID, ok := r.s.byTriple[key]; ok {
		chat := r.s.chats[chatID]
		chat.LastActivityAt = now
		c := *chat
		return &c, false, nil
	}

	chat := &domain.Chat{
		ID:             id.New(),
		StrategyID:     strategyID,
		InitiatorID:    initiatorID,
		CounterpartyID: counterpartyID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	r.s.chats[chat.ID] = chat
	r.s.byTriple[key] = chat.ID
	r.s.logs[chat.ID] = &chatLog{}

	c := *chat
	return &c, true, nil
}

func (r *ChatRepo) GetByID(_ context.Context, id int64) (*domain.Chat, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	chat, ok := r.s.chats[id]
	if !ok {
		return nil, nil
	}
	c := *chat
	return &c, nil
}

func (r *ChatRepo) ListByParticipant(_ context.Context, userID int64) ([]domain.Chat, error) {
	r.s.mu.RLock()
	var chats []domain.Chat
	for _, chat := range r.s.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, *chat)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].LastActivityAt.Equal(chats[j].LastActivityAt) {
			return chats[i].LastActivityAt.After(chats[j].LastActivityAt)
		}
		return chats[i].ID > chats[j].ID
	})
	return chats, nil
}
