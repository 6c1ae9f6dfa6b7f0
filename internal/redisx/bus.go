package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/toolscout/catalogd/internal/events"
)

// Bus implements events.Bus over Redis pub/sub. One PubSub connection is
// shared by all subscribers; a forwarder goroutine fans messages out
// through an events.Hub.
type Bus struct {
	rdb redis.UniversalClient
	hub *events.Hub
	ps  *redis.PubSub

	cancel context.CancelFunc
	done   chan struct{}
}

// NewBus creates a bus. Call Start before Subscribe.
func NewBus(rdb redis.UniversalClient) *Bus {
	return &Bus{rdb: rdb, hub: events.NewHub()}
}

// Start opens the shared subscription and runs the forwarder until ctx is
// cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	b.ps = b.rdb.Subscribe(ctx)
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ch := b.ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				b.hub.Dispatch(events.Event{Channel: m.Channel, Payload: json.RawMessage(m.Payload)})
			}
		}
	}()
	slog.Info("event bus: redis forwarder started")
	return nil
}

// Stop ends the forwarder and closes the subscription.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.ps != nil {
		_ = b.ps.Close()
	}
	if b.done != nil {
		<-b.done
	}
}

// Publish sends the JSON-encoded payload with PUBLISH.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event bus: marshal payload: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("event bus: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a listener; the first one on a channel adds it to the
// shared subscription.
func (b *Bus) Subscribe(channel string) (<-chan events.Event, func()) {
	ch, cancel, first := b.hub.Add(channel)
	if first && b.ps != nil {
		if err := b.ps.Subscribe(context.Background(), channel); err != nil {
			slog.Error("event bus: redis SUBSCRIBE failed", "channel", channel, "error", err)
		}
	}
	return ch, cancel
}
