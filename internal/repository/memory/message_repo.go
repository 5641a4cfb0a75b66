package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/id"
)

type MessageRepo struct {
	s *Store
}

func (r *MessageRepo) Append(_ context.Context, chatID, senderID int64, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is empty: %w", domain.ErrValidation)
	}

	chat, log, ok := r.s.chatLogFor(chatID)
	if !ok {
		return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
	}
	receiverID, ok := chat.Other(senderID)
	if !ok {
		return nil, fmt.Errorf("sender %d is not a participant of chat %d: %w", senderID, chatID, domain.ErrValidation)
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	msg := domain.Message{
		ID:         id.New(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  r.s.now(),
	}
	log.messages = append(log.messages, msg)

	r.s.mu.Lock()
	if c, ok := r.s.chats[chatID]; ok {
		c.LastActivityAt = msg.CreatedAt
	}
	r.s.mu.Unlock()

	return &msg, nil
}

// ListByChat returns messages by created_at with ties broken by id.
func (r *MessageRepo) ListByChat(_ context.Context, chatID int64) ([]domain.Message, error) {
	_, log, ok := r.s.chatLogFor(chatID)
	if !ok {
		return nil, nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	messages := make([]domain.Message, len(log.messages))
	copy(messages, log.messages)
	sort.SliceStable(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (r *MessageRepo) MarkAllReadForRecipient(_ context.Context, chatID, recipientID int64) ([]int64, error) {
	_, log, ok := r.s.chatLogFor(chatID)
	if !ok {
		return nil, fmt.Errorf("chat %d: %w", chatID, domain.ErrNotFound)
	}
	log.mu.Lock()
	defer log.mu.Unlock()

	var ids []int64
	for i := range log.messages {
		m := &log.messages[i]
		if m.ReceiverID == recipientID && !m.IsRead {
			m.IsRead = true
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (r *MessageRepo) UnreadCountFor(_ context.Context, recipientID, chatID int64) (int, error) {
	_, log, ok := r.s.chatLogFor(chatID)
	if !ok {
		return 0, nil
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	return countUnread(log.messages, recipientID), nil
}

func (r *MessageRepo) UnreadCountsFor(_ context.Context, recipientID int64) (map[int64]int, error) {
	counts := make(map[int64]int)
	for chatID, log := range r.s.logsOf(recipientID) {
		log.mu.Lock()
		n := countUnread(log.messages, recipientID)
		log.mu.Unlock()
		if n > 0 {
			counts[chatID] = n
		}
	}
	return counts, nil
}

func (r *MessageRepo) LatestByChats(_ context.Context, chatIDs []int64) (map[int64]domain.Message, error) {
	latest := make(map[int64]domain.Message, len(chatIDs))
	for _, chatID := range chatIDs {
		_, log, ok := r.s.chatLogFor(chatID)
		if !ok {
			continue
		}
		log.mu.Lock()
		for _, m := range log.messages {
			cur, seen := latest[chatID]
			if !seen || m.CreatedAt.After(cur.CreatedAt) || (m.CreatedAt.Equal(cur.CreatedAt) && m.ID > cur.ID) {
				latest[chatID] = m
			}
		}
		log.mu.Unlock()
	}
	return latest, nil
}

func countUnread(messages []domain.Message, recipientID int64) int {
	n := 0
	for _, m := range messages {
		if m.ReceiverID == recipientID && !m.IsRead {
			n++
		}
	}
	return n
}

// logsOf snapshots the logs of every chat userID takes part in. The store
// lock is released before any log is locked.
func (s *Store) logsOf(userID int64) map[int64]*chatLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := make(map[int64]*chatLog)
	for chatID, chat := range s.chats {
		if chat.HasParticipant(userID) {
			logs[chatID] = s.logs[chatID]
		}
	}
	return logs
}
