package ws

import (
	"context"
	"errors"

	"github.com/vedran77/stratchat/internal/domain"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyChatOpened(ctx context.Context, userID int64, chat *domain.ChatView) error {
	return n.hub.Publish(ctx, UserRoom(userID), EventTypeThreadOpened, chat)
}

func (n *HubNotifier) NotifyNewMessage(ctx context.Context, userIDs []int64, msg *domain.MessageView) error {
	var errs []error
	for _, id := range userIDs {
		if err := n.hub.Publish(ctx, UserRoom(id), EventTypeNewMessage, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *HubNotifier) NotifyMessagesRead(ctx context.Context, userID int64, receipt *domain.MessagesRead) error {
	return n.hub.Publish(ctx, UserRoom(userID), EventTypeMessagesRead, receipt)
}

func (n *HubNotifier) NotifyUnreadCount(ctx context.Context, userID int64, count domain.UnreadCount) error {
	return n.hub.Publish(ctx, UserRoom(userID), EventTypeUnreadCount, count)
}
