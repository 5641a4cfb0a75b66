package ws

import (
	"context"
	"net/http"
	"slices"
	"strconv"

	"github.com/vedran77/stratchat/internal/domain"
	"nhooyr.io/websocket"
)

// Authenticator resolves a bearer token to a directory user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.AuthenticatedUser, error)
}

// HandlerOptions configure the upgrade endpoint.
type HandlerOptions struct {
	// OriginPatterns are the allowed browser origins. "*" allows any.
	OriginPatterns []string
	Client         ClientOptions
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
// Optional chat_id and role join the chat room right after connect.
func ServeWS(hub *Hub, auth Authenticator, chats ChatAuthorizer, opts HandlerOptions) http.HandlerFunc {
	accept := &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}
	if slices.Contains(opts.OriginPatterns, "*") {
		accept = &websocket.AcceptOptions{InsecureSkipVerify: true}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		tokenStr := q.Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		user, err := auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		var chatID int64
		if raw := q.Get("chat_id"); raw != "" {
			chatID, err = strconv.ParseInt(raw, 10, 64)
			if err != nil || chatID <= 0 {
				http.Error(w, "invalid chat_id", http.StatusBadRequest)
				return
			}
		}

		conn, err := websocket.Accept(w, r, accept)
		if err != nil {
			hub.logger.WithError(err).Warn("ws: accept error")
			return
		}

		ctx := r.Context()
		client := NewClient(hub, conn, user, chats, opts.Client)
		hub.Register(client)

		client.reply(EventTypeConnected, UserRoom(user.ID), ConnectedPayload{
			SessionID: client.session.ID,
			UserID:    user.ID,
			UserName:  user.Name,
			Rooms:     client.Rooms(),
		})
		if chatID > 0 {
			client.Join(ctx, chatID, q.Get("role"))
		}

		go client.WritePump(ctx)
		client.ReadPump(ctx)
	}
}
