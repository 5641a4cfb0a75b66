package ws

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vedran77/stratchat/internal/metrics"
)

const shardCount = 32

// Relay forwards locally published events to other instances.
type Relay interface {
	Forward(ctx context.Context, room string, exclude uuid.UUID, data []byte) error
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Hub owns connection sessions and room membership. Rooms are spread over
// shards so a publish only contends with changes to rooms in its shard.
type Hub struct {
	shards [shardCount]*roomShard

	mu       sync.Mutex
	sessions map[uuid.UUID]*Client

	relay  Relay
	logger *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	h := &Hub{
		sessions: make(map[uuid.UUID]*Client),
		logger:   logger,
	}
	for i := range h.shards {
		h.shards[i] = &roomShard{rooms: make(map[string]map[*Client]struct{})}
	}
	return h
}

// SetRelay sets the cross-instance relay (optional dependency).
func (h *Hub) SetRelay(r Relay) {
	h.relay = r
}

func (h *Hub) shard(room string) *roomShard {
	f := fnv.New32a()
	f.Write([]byte(room))
	return h.shards[f.Sum32()%shardCount]
}

// Register records the session and subscribes it to its user room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.sessions[c.session.ID] = c
	total := len(h.sessions)
	h.mu.Unlock()

	metrics.WSConnections.Inc()
	h.Subscribe(c, UserRoom(c.session.User.ID))

	h.logger.WithFields(logrus.Fields{
		"session_id": c.session.ID,
		"user_id":    c.session.User.ID,
		"total":      total,
	}).Info("ws: session connected")
}

// Unregister removes the session from every room and stops its pumps.
// Calling it more than once is harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.sessions[c.session.ID]
	delete(h.sessions, c.session.ID)
	total := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return
	}

	for _, room := range c.Rooms() {
		h.Unsubscribe(c, room)
	}
	c.close()
	metrics.WSConnections.Dec()

	h.logger.WithFields(logrus.Fields{
		"session_id": c.session.ID,
		"user_id":    c.session.User.ID,
		"total":      total,
	}).Info("ws: session disconnected")
}

// Subscribe adds c to room. It is a no-op for unregistered sessions.
func (h *Hub) Subscribe(c *Client, room string) {
	s := h.shard(room)
	s.mu.Lock()
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		s.rooms[room] = members
	}
	_, already := members[c]
	members[c] = struct{}{}
	s.mu.Unlock()

	c.addRoom(room)
	if !already {
		metrics.RoomSubscriptions.Inc()
	}

	// The room is recorded before this check, so a concurrent Unregister
	// either sees it or has already removed the session.
	h.mu.Lock()
	_, live := h.sessions[c.session.ID]
	h.mu.Unlock()
	if !live {
		h.Unsubscribe(c, room)
	}
}

// Unsubscribe removes c from room. Empty rooms are dropped.
func (h *Hub) Unsubscribe(c *Client, room string) {
	s := h.shard(room)
	s.mu.Lock()
	members := s.rooms[room]
	_, ok := members[c]
	delete(members, c)
	if len(members) == 0 {
		delete(s.rooms, room)
	}
	s.mu.Unlock()

	c.removeRoom(room)
	if ok {
		metrics.RoomSubscriptions.Dec()
	}
}

// Publish delivers an event to every member of room on this instance and
// hands it to the relay, if any. Delivery is best-effort.
func (h *Hub) Publish(ctx context.Context, room, eventType string, payload any) error {
	return h.PublishExcept(ctx, room, eventType, payload, uuid.Nil)
}

// PublishExcept is Publish without delivery to the session exclude.
func (h *Hub) PublishExcept(ctx context.Context, room, eventType string, payload any, exclude uuid.UUID) error {
	evt, err := NewEvent(eventType, room, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	metrics.EventsPublished.WithLabelValues(eventType).Inc()
	h.Deliver(room, data, exclude)

	if h.relay != nil {
		return h.relay.Forward(ctx, room, exclude, data)
	}
	return nil
}

// Deliver writes an encoded event to the local members of room, skipping
// the session exclude. Members whose buffer is full are disconnected.
func (h *Hub) Deliver(room string, data []byte, exclude uuid.UUID) {
	s := h.shard(room)
	s.mu.RLock()
	members := make([]*Client, 0, len(s.rooms[room]))
	for c := range s.rooms[room] {
		if c.session.ID != exclude {
			members = append(members, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range members {
		if c.enqueue(data) {
			continue
		}
		metrics.EventsDropped.Inc()
		h.logger.WithFields(logrus.Fields{
			"session_id": c.session.ID,
			"room":       room,
		}).Warn("ws: send buffer full, dropping session")
		h.Unregister(c)
	}
}

// Members returns the number of local connections in room.
func (h *Hub) Members(room string) int {
	s := h.shard(room)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
