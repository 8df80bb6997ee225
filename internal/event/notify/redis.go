// Package notify fans recorded events out to external subscribers over
// Redis pub/sub. Delivery is at most once and best effort: the event is
// already durably persisted by the time it is published, and a subscriber
// that needs a complete history should read the store, not this channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"tsunami/internal/event"
)

type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish sends the event as JSON on the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// Subscribe consumes events from the channel until ctx is cancelled,
// calling handler for each decoded event. The subscription is confirmed
// before the consumer goroutine starts, so a dead broker fails here
// instead of silently. Malformed payloads are logged and skipped.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger, handler func(*event.Event)) error {
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev event.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("skipping malformed event payload", "channel", channel, "error", err)
					continue
				}
				handler(&ev)
			}
		}
	}()
	return nil
}
