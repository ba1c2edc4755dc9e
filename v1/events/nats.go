package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	defaultSubject = "shelf.events"
	flushTimeout   = 5 * time.Second
)

// NATSBus publishes events on a NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
}

// NewNATS creates a NATSBus. An empty subject selects "shelf.events".
func NewNATS(conn *nats.Conn, subject string) *NATSBus {
	if subject == "" {
		subject = defaultSubject
	}
	return &NATSBus{conn: conn, subject: subject}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subject, data)
}

// Subscribe implements Bus.Subscribe. The subscription is flushed to the
// server before returning.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := b.conn.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := b.conn.FlushWithContext(flushCtx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		defer func() { _ = sub.Unsubscribe() }()
		for {
			select {
			case msg := <-msgs:
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					slog.Warn("Dropping malformed event.", "subject", b.subject, "error", err)
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
