package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/telemetry"
)

// DefaultChannel is the pub/sub channel events are read from.
const DefaultChannel = "uas:events"

// Handler applies one decoded event.
type Handler interface {
	Dispatch(ctx context.Context, ev Event) error
}

// RedisPublisher publishes events, for hosts and tools that emit them from Go.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher returns a publisher on channel (DefaultChannel if empty).
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends ev and returns the number of subscribers that received it.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) (int64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}
	n, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("publish event: %w", err)
	}
	return n, nil
}

// RedisSubscriber reads events from a pub/sub channel and hands them to a
// Handler one at a time.
type RedisSubscriber struct {
	client  redis.UniversalClient
	channel string
	handler Handler
}

// NewRedisSubscriber returns a subscriber on channel (DefaultChannel if empty).
func NewRedisSubscriber(client redis.UniversalClient, channel string, handler Handler) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{client: client, channel: channel, handler: handler}
}

// Run subscribes and processes messages until ctx is cancelled. It returns
// an error only if the subscription cannot be established. Malformed
// messages and dispatch failures are logged and skipped.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so no message published after
	// Run starts is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	slog.Info("event subscriber started", "channel", s.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("event subscriber stopped", "channel", s.channel)
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(ctx context.Context, payload string) {
	ev, err := Decode([]byte(payload))
	if err != nil {
		telemetry.EventsReceivedTotal.WithLabelValues("redis", "invalid").Inc()
		slog.Warn("discarding malformed event", "channel", s.channel, "error", err)
		return
	}
	telemetry.EventsReceivedTotal.WithLabelValues("redis", string(ev.Type)).Inc()
	if err := s.handler.Dispatch(ctx, ev); err != nil {
		slog.Error("event dispatch failed", "type", ev.Type, "user_id", ev.User.ID, "error", err)
	}
}
