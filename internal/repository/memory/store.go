// Package memory is an in-process implementation of the repository
// interfaces. It backs STORE_DRIVER=memory and the test suites.
package memory

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vedran77/stratchat/internal/domain"
	"gopkg.in/yaml.v3"
)

type tripleKey struct {
	strategyID, initiatorID, counterpartyID int64
}

// chatLog is the message log of one chat. Its mutex is the per-chat
// serialization scope for appends and read transitions.
type chatLog struct {
	mu       sync.Mutex
	messages []domain.Message
}

type Store struct {
	// mu guards everything except the contents of each chatLog.
	// Lock order: chatLog.mu before mu.
	mu         sync.RWMutex
	users      map[int64]domain.User
	strategies map[int64]domain.Strategy
	chats      map[int64]*domain.Chat
	byTriple   map[tripleKey]int64
	logs       map[int64]*chatLog

	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now. Tests use it to force equal timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		users:      make(map[int64]domain.User),
		strategies: make(map[int64]domain.Strategy),
		chats:      make(map[int64]*domain.Chat),
		byTriple:   make(map[tripleKey]int64),
		logs:       make(map[int64]*chatLog),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Users() *UserRepo          { return &UserRepo{s: s} }
func (s *Store) Strategies() *StrategyRepo { return &StrategyRepo{s: s} }
func (s *Store) Chats() *ChatRepo          { return &ChatRepo{s: s} }
func (s *Store) Messages() *MessageRepo    { return &MessageRepo{s: s} }

func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddStrategy(st domain.Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.ID] = st
}

// DeleteStrategy removes a strategy together with its chats and their
// messages.
func (s *Store) DeleteStrategy(strategyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.strategies, strategyID)
	for chatID, chat := range s.chats {
		if chat.StrategyID != strategyID {
			continue
		}
		delete(s.byTriple, tripleKey{chat.StrategyID, chat.InitiatorID, chat.CounterpartyID})
		delete(s.logs, chatID)
		delete(s.chats, chatID)
	}
}

type seedFile struct {
	Users []struct {
		ID    int64  `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"users"`
	Strategies []struct {
		ID      int64  `yaml:"id"`
		Name    string `yaml:"name"`
		OwnerID int64  `yaml:"owner_id"`
	} `yaml:"strategies"`
}

// LoadSeed adds the users and strategies listed in a YAML fixture file.
func (s *Store) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	return s.loadSeed(data)
}

func (s *Store) loadSeed(data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range seed.Users {
		s.users[u.ID] = domain.User{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	for _, st := range seed.Strategies {
		if _, ok := s.users[st.OwnerID]; !ok {
			return fmt.Errorf("strategy %d: owner %d is not a seeded user", st.ID, st.OwnerID)
		}
		s.strategies[st.ID] = domain.Strategy{ID: st.ID, Name: st.Name, OwnerID: st.OwnerID}
	}
	return nil
}

// chatLogFor returns the chat and its log, or nils if the chat is unknown.
func (s *Store) chatLogFor(chatID int64) (domain.Chat, *chatLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return domain.Chat{}, nil, false
	}
	return *chat, s.logs[chatID], true
}
