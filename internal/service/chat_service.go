package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/metrics"
	"github.com/vedran77/stratchat/internal/repository"
	"github.com/vedran77/stratchat/pkg/validator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrChatNotFound     = fmt.Errorf("chat %w", domain.ErrNotFound)
	ErrStrategyNotFound = fmt.Errorf("strategy %w", domain.ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", domain.ErrNotFound)
	ErrNotParticipant   = fmt.Errorf("you are not a participant of this chat: %w", domain.ErrForbidden)
	ErrRoleMismatch     = fmt.Errorf("role does not match your place in this chat: %w", domain.ErrForbidden)
	ErrCannotChatSelf   = fmt.Errorf("cannot start a chat with yourself: %w", domain.ErrValidation)
	ErrMissingIDs       = fmt.Errorf("strategy_id and creator_id are required: %w", domain.ErrValidation)
	ErrUnknownRole      = fmt.Errorf("role must be initiator or counterparty: %w", domain.ErrValidation)
)

// Notifier pushes real-time events to connected clients. Implementations
// are best-effort; a returned error is logged and otherwise ignored.
type Notifier interface {
	NotifyChatOpened(ctx context.Context, userID int64, chat *domain.ChatView) error
	NotifyNewMessage(ctx context.Context, userIDs []int64, msg *domain.MessageView) error
	NotifyMessagesRead(ctx context.Context, userID int64, receipt *domain.MessagesRead) error
	NotifyUnreadCount(ctx context.Context, userID int64, count domain.UnreadCount) error
}

type ChatService struct {
	chats      repository.ChatRepository
	messages   repository.MessageRepository
	users      repository.UserRepository
	strategies repository.StrategyRepository
	notifier   Notifier
	logger     *logrus.Logger
	tracer     trace.Tracer
}

func NewChatService(
	chats repository.ChatRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	strategies repository.StrategyRepository,
	logger *logrus.Logger,
) *ChatService {
	return &ChatService{
		chats:      chats,
		messages:   messages,
		users:      users,
		strategies: strategies,
		logger:     logger,
		tracer:     otel.Tracer("github.com/vedran77/stratchat/internal/service"),
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

// StartOrOpen finds or creates the chat actor opens with counterpartyID
// about strategyID. The counterparty is told about new chats only.
func (s *ChatService) StartOrOpen(ctx context.Context, actor domain.AuthenticatedUser, strategyID, counterpartyID int64) (view *domain.ChatView, created bool, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.StartOrOpen", actor,
		attribute.Int64("strategy.id", strategyID),
		attribute.Int64("counterparty.id", counterpartyID),
	)
	defer func() { endSpan(span, err) }()

	if strategyID <= 0 || counterpartyID <= 0 {
		return nil, false, ErrMissingIDs
	}
	if actor.ID == counterpartyID {
		return nil, false, ErrCannotChatSelf
	}

	strategy, err := s.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return nil, false, fmt.Errorf("looking up strategy: %w", err)
	}
	if strategy == nil {
		return nil, false, ErrStrategyNotFound
	}

	users, err := s.users.GetByIDs(ctx, []int64{actor.ID, counterpartyID})
	if err != nil {
		return nil, false, fmt.Errorf("looking up participants: %w", err)
	}
	if _, ok := users[actor.ID]; !ok {
		return nil, false, ErrUserNotFound
	}
	if _, ok := users[counterpartyID]; !ok {
		return nil, false, ErrUserNotFound
	}

	chat, created, err := s.chats.FindOrCreate(ctx, strategyID, actor.ID, counterpartyID)
	if err != nil {
		return nil, false, fmt.Errorf("finding or creating chat: %w", err)
	}

	view = &domain.ChatView{
		Chat:             *chat,
		StrategyName:     strategy.Name,
		InitiatorName:    users[chat.InitiatorID].Name,
		CounterpartyName: users[chat.CounterpartyID].Name,
	}

	if created {
		s.logger.WithFields(logrus.Fields{
			"chat_id":         chat.ID,
			"strategy_id":     strategyID,
			"initiator_id":    actor.ID,
			"counterparty_id": counterpartyID,
		}).Info("chat created")

		if s.notifier != nil {
			s.published(s.notifier.NotifyChatOpened(ctx, counterpartyID, view), "thread_opened", chat.ID)
		}
	}

	return view, created, nil
}

// Send appends a message from actor and pushes it to both participants so
// the sender's other sessions stay in sync. Membership is checked before
// the content, so outsiders are refused whatever they send.
func (s *ChatService) Send(ctx context.Context, actor domain.AuthenticatedUser, chatID int64, content string) (view *domain.MessageView, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.Send", actor, attribute.Int64("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}
	if errs := validator.ValidateMessage(content); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, errs)
	}

	msg, err := s.messages.Append(ctx, chat.ID, actor.ID, content)
	if err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	metrics.MessagesSent.Inc()

	views, err := s.messageViews(ctx, chat, []domain.Message{*msg})
	if err != nil {
		return nil, err
	}
	view = &views[0]

	if s.notifier != nil {
		s.published(s.notifier.NotifyNewMessage(ctx, []int64{msg.SenderID, msg.ReceiverID}, view), "new_message", chat.ID)
	}

	return view, nil
}

// ListChatsFor returns every chat actor takes part in. Chats with unread
// messages come first; each group is ordered by last activity, newest first.
func (s *ChatService) ListChatsFor(ctx context.Context, actor domain.AuthenticatedUser) (summaries []domain.ChatSummary, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.ListChatsFor", actor)
	defer func() { endSpan(span, err) }()

	chats, err := s.chats.ListByParticipant(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	if len(chats) == 0 {
		return []domain.ChatSummary{}, nil
	}

	counts, err := s.messages.UnreadCountsFor(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}

	chatIDs := make([]int64, len(chats))
	for i, c := range chats {
		chatIDs[i] = c.ID
	}
	latest, err := s.messages.LatestByChats(ctx, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("loading latest messages: %w", err)
	}

	views, err := s.chatViews(ctx, chats)
	if err != nil {
		return nil, err
	}

	summaries = make([]domain.ChatSummary, len(views))
	for i, v := range views {
		summaries[i] = domain.ChatSummary{ChatView: v, UnreadCount: counts[v.ID]}
		if m, ok := latest[v.ID]; ok {
			sender, at := m.SenderID, m.CreatedAt
			summaries[i].LastMessage = m.Content
			summaries[i].LastMessageSender = &sender
			summaries[i].LastMessageAt = &at
		}
	}

	sortSummaries(summaries)
	return summaries, nil
}

func sortSummaries(summaries []domain.ChatSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if (a.UnreadCount > 0) != (b.UnreadCount > 0) {
			return a.UnreadCount > 0
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})
}

// GetMessages returns the full history of a chat, oldest first.
func (s *ChatService) GetMessages(ctx context.Context, actor domain.AuthenticatedUser, chatID int64) (views []domain.MessageView, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.GetMessages", actor, attribute.Int64("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}

	messages, err := s.messages.ListByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return s.messageViews(ctx, chat, messages)
}

// MarkRead marks every message addressed to actor in the chat as read. The
// other participant receives one receipt listing the affected ids.
func (s *ChatService) MarkRead(ctx context.Context, actor domain.AuthenticatedUser, chatID int64) (result *domain.ReadResult, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.MarkRead", actor, attribute.Int64("chat.id", chatID))
	defer func() { endSpan(span, err) }()

	chat, err := s.participantChat(ctx, actor, chatID)
	if err != nil {
		return nil, err
	}

	ids, err := s.messages.MarkAllReadForRecipient(ctx, chat.ID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("marking messages read: %w", err)
	}
	span.SetAttributes(attribute.Int("read.count", len(ids)))

	if len(ids) > 0 && s.notifier != nil {
		other, _ := chat.Other(actor.ID)
		receipt := &domain.MessagesRead{ChatID: chat.ID, ReaderID: actor.ID, MessageIDs: ids}
		s.published(s.notifier.NotifyMessagesRead(ctx, other, receipt), "messages_read", chat.ID)
	}

	return &domain.ReadResult{ChatID: chat.ID, ReadCount: len(ids)}, nil
}

// UnreadSummary returns the unread count of every chat actor takes part in
// and pushes the same counts to actor's room.
func (s *ChatService) UnreadSummary(ctx context.Context, actor domain.AuthenticatedUser) (summary []domain.UnreadCount, err error) {
	ctx, span := s.startSpan(ctx, "ChatService.UnreadSummary", actor)
	defer func() { endSpan(span, err) }()

	chats, err := s.chats.ListByParticipant(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	counts, err := s.messages.UnreadCountsFor(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}

	summary = make([]domain.UnreadCount, len(chats))
	for i, c := range chats {
		summary[i] = domain.UnreadCount{ChatID: c.ID, UnreadCount: counts[c.ID]}
		if s.notifier != nil {
			s.published(s.notifier.NotifyUnreadCount(ctx, actor.ID, summary[i]), "unread_count_update", c.ID)
		}
	}
	return summary, nil
}

// AuthorizeJoin checks that actor may subscribe to the chat's room. An
// empty role accepts either participant.
func (s *ChatService) AuthorizeJoin(ctx context.Context, actor domain.AuthenticatedUser, chatID int64, role string) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("looking up chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	if role == "" {
		if !chat.HasParticipant(actor.ID) {
			return nil, ErrNotParticipant
		}
		return chat, nil
	}

	role = domain.NormalizeRole(role)
	if role != domain.RoleInitiator && role != domain.RoleCounterparty {
		return nil, ErrUnknownRole
	}
	if chat.RoleOf(actor.ID) != role {
		return nil, ErrRoleMismatch
	}
	return chat, nil
}

// Profile returns the directory record of the authenticated user.
func (s *ChatService) Profile(ctx context.Context, actor domain.AuthenticatedUser) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// participantChat loads the chat and checks actor is one of its members.
func (s *ChatService) participantChat(ctx context.Context, actor domain.AuthenticatedUser, chatID int64) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("looking up chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.HasParticipant(actor.ID) {
		return nil, ErrNotParticipant
	}
	return chat, nil
}

func (s *ChatService) chatViews(ctx context.Context, chats []domain.Chat) ([]domain.ChatView, error) {
	userIDs := make([]int64, 0, 2*len(chats))
	strategyIDs := make([]int64, 0, len(chats))
	for _, c := range chats {
		userIDs = append(userIDs, c.InitiatorID, c.CounterpartyID)
		strategyIDs = append(strategyIDs, c.StrategyID)
	}

	users, err := s.users.GetByIDs(ctx, dedupe(userIDs))
	if err != nil {
		return nil, fmt.Errorf("looking up participants: %w", err)
	}
	strategies, err := s.strategies.GetByIDs(ctx, dedupe(strategyIDs))
	if err != nil {
		return nil, fmt.Errorf("looking up strategies: %w", err)
	}

	views := make([]domain.ChatView, len(chats))
	for i, c := range chats {
		views[i] = domain.ChatView{
			Chat:             c,
			StrategyName:     strategies[c.StrategyID].Name,
			InitiatorName:    users[c.InitiatorID].Name,
			CounterpartyName: users[c.CounterpartyID].Name,
		}
	}
	return views, nil
}

func (s *ChatService) messageViews(ctx context.Context, chat *domain.Chat, messages []domain.Message) ([]domain.MessageView, error) {
	users, err := s.users.GetByIDs(ctx, []int64{chat.InitiatorID, chat.CounterpartyID})
	if err != nil {
		return nil, fmt.Errorf("looking up participants: %w", err)
	}

	views := make([]domain.MessageView, len(messages))
	for i, m := range messages {
		views[i] = domain.MessageView{
			Message:      m,
			SenderName:   users[m.SenderID].Name,
			ReceiverName: users[m.ReceiverID].Name,
		}
	}
	return views, nil
}

// published logs a failed push. Storage already holds the change, and
// clients recover by re-fetching, so the error goes no further.
func (s *ChatService) published(err error, event string, chatID int64) {
	if err == nil {
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"event":   event,
		"chat_id": chatID,
	}).Warn("publish failed")
}

func (s *ChatService) startSpan(ctx context.Context, name string, actor domain.AuthenticatedUser, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("actor.id", actor.ID))
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		// Caller mistakes are not service faults.
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrForbidden) && !errors.Is(err, domain.ErrNotFound) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
