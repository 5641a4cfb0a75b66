package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// relayEnvelope is what travels on the Redis channel.
type relayEnvelope struct {
	Origin  uuid.UUID       `json:"origin"`
	Room    string          `json:"room"`
	Exclude uuid.UUID       `json:"exclude"`
	Event   json.RawMessage `json:"event"`
}

// RedisRelay fans hub events out to other instances over Redis pub/sub.
// Each instance tags what it sends and ignores its own messages on receipt.
type RedisRelay struct {
	client   *redis.Client
	channel  string
	instance uuid.UUID
	hub      *Hub
	logger   *logrus.Logger
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		client:   client,
		channel:  channel,
		instance: uuid.New(),
		hub:      hub,
		logger:   logger,
	}
}

func (r *RedisRelay) Forward(ctx context.Context, room string, exclude uuid.UUID, data []byte) error {
	payload, err := json.Marshal(relayEnvelope{
		Origin:  r.instance,
		Room:    room,
		Exclude: exclude,
		Event:   data,
	})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run delivers events published by other instances until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.WithFields(logrus.Fields{
		"channel":  r.channel,
		"instance": r.instance,
	}).Info("ws relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.WithError(err).Warn("ws relay: bad envelope")
		return
	}
	if env.Origin == r.instance || env.Room == "" {
		return
	}
	r.hub.Deliver(env.Room, env.Event, env.Exclude)
}
