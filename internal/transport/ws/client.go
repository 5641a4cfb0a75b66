package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedran77/stratchat/internal/domain"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	sendBufSize    = 256
)

// ChatAuthorizer decides whether a user may join a chat room.
type ChatAuthorizer interface {
	AuthorizeJoin(ctx context.Context, actor domain.AuthenticatedUser, chatID int64, role string) (*domain.Chat, error)
}

// Session identifies one connection of an authenticated user.
type Session struct {
	ID   uuid.UUID
	User domain.AuthenticatedUser
}

// ClientOptions tune a single connection.
type ClientOptions struct {
	RateLimit float64
	RateBurst int
	PongWait  time.Duration
}

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session Session
	chats   ChatAuthorizer
	limiter *rate.Limiter
	opts    ClientOptions
	logger  *logrus.Entry

	// rooms mirrors the hub membership of this client.
	rooms map[string]struct{}
	mu    sync.Mutex

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, user domain.AuthenticatedUser, chats ChatAuthorizer, opts ClientOptions) *Client {
	session := Session{ID: uuid.New(), User: user}
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		opts:    opts,
		logger: hub.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"user_id":    user.ID,
		}),
		rooms: make(map[string]struct{}),
		send:  make(chan []byte, sendBufSize),
		done:  make(chan struct{}),
	}
}

func (c *Client) Session() Session {
	return c.session
}

// Rooms returns a snapshot of the rooms this client is in.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// InRoom checks if this client is subscribed to a room.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// enqueue hands data to the write pump without blocking. It reports false
// when the buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads messages from the WebSocket and handles them until the
// connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.logger.Debug("ws: client disconnected")
			} else {
				c.logger.WithError(err).Debug("ws: read error")
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError(ErrCodeRateLimited, "too many frames, slow down")
			continue
		}

		c.handleEvent(ctx, &event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.logger.WithError(err).Debug("ws: write error")
				return
			}

		case <-ticker.C:
			// Ping blocks until the pong arrives through ReadPump.
			pctx, cancel := context.WithTimeout(ctx, c.opts.PongWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.WithError(err).Debug("ws: ping error")
				return
			}

		case <-c.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(ctx context.Context, event *Event) {
	switch event.Type {
	case EventTypeJoinChat:
		var p JoinPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ChatID <= 0 {
			c.sendError(ErrCodeInvalidPayload, "join_chat needs a chat_id")
			return
		}
		c.Join(ctx, p.ChatID, p.Role)

	case EventTypeLeaveChat:
		var p ChatPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ChatID <= 0 {
			c.sendError(ErrCodeInvalidPayload, "leave_chat needs a chat_id")
			return
		}
		room := ChatRoom(p.ChatID)
		c.hub.Unsubscribe(c, room)
		c.reply(EventTypeLeftChat, room, ChatPayload{ChatID: p.ChatID})

	case EventTypeTyping:
		var p ChatPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ChatID <= 0 {
			c.sendError(ErrCodeInvalidPayload, "typing needs a chat_id")
			return
		}
		room := ChatRoom(p.ChatID)
		if !c.InRoom(room) {
			c.sendError(ErrCodeForbidden, "join the chat before sending typing events")
			return
		}
		typing := TypingPayload{ChatID: p.ChatID, UserID: c.session.User.ID, UserName: c.session.User.Name}
		if err := c.hub.PublishExcept(ctx, room, EventTypeTyping, typing, c.session.ID); err != nil {
			c.logger.WithError(err).Warn("ws: typing publish failed")
		}

	case EventTypePing:
		c.reply(EventTypePong, "", nil)

	default:
		c.sendError(ErrCodeUnknownEvent, "unknown event type: "+event.Type)
	}
}

// Join subscribes the client to a chat room after the participant check.
// A refused join leaves the subscriptions unchanged and replies with an
// error event.
func (c *Client) Join(ctx context.Context, chatID int64, role string) {
	chat, err := c.chats.AuthorizeJoin(ctx, c.session.User, chatID, role)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.sendError(ErrCodeNotFound, "chat not found")
		case errors.Is(err, domain.ErrForbidden):
			c.sendError(ErrCodeForbidden, "you cannot join this chat")
		case errors.Is(err, domain.ErrValidation):
			c.sendError(ErrCodeValidation, err.Error())
		default:
			c.logger.WithError(err).WithField("chat_id", chatID).Error("ws: authorize join")
			c.sendError(ErrCodeInternal, "something went wrong")
		}
		return
	}

	room := ChatRoom(chat.ID)
	c.hub.Subscribe(c, room)
	c.reply(EventTypeJoinedChat, room, JoinedPayload{ChatID: chat.ID, Role: chat.RoleOf(c.session.User.ID)})
}

func (c *Client) reply(eventType, room string, payload any) {
	evt := &Event{Type: eventType, Room: room, Timestamp: time.Now().Unix()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		evt.Payload = data
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) sendError(code, message string) {
	c.reply(EventTypeError, "", ErrorPayload{Code: code, Message: message})
}
