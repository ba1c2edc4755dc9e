package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "shelf:events"

// RedisBus publishes events on a Redis pub/sub channel so every proxy
// sharing the Redis instance sees the same lifecycle stream.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis creates a RedisBus. An empty channel selects "shelf:events".
func NewRedis(client redis.UniversalClient, channel string) *RedisBus {
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe implements Bus.Subscribe. It returns once Redis has confirmed
// the subscription, so events published afterwards are not lost.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("Dropping malformed event.", "channel", b.channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
