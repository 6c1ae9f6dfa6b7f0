// Package events defines the broadcast bus used to announce catalog changes
// to external subscribers, plus the in-memory implementation used when no
// Postgres or Redis bus is configured.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ChannelCatalogUpdates carries one event per completed orchestrator run.
const ChannelCatalogUpdates = "catalog_updates"

// Event is a single message received on a channel.
type Event struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Bus publishes and subscribes to named channels. Callers log publish
// errors and carry on.
type Bus interface {
	// Publish sends payload, JSON-encoded, to every subscriber of channel.
	Publish(ctx context.Context, channel string, payload any) error

	// Subscribe returns a buffered event channel and a cancel function that
	// unsubscribes and closes it.
	Subscribe(channel string) (<-chan Event, func())
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Hub is the subscriber registry shared by every Bus implementation. It
// fans events out without ever blocking on a slow consumer.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]subscriber
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]subscriber)}
}

// Add registers a subscriber. first is true when channel had no subscribers,
// so transports know to start listening on it.
func (h *Hub) Add(channel string) (_ <-chan Event, cancel func(), first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := subscriber{ch: make(chan Event, 16), done: make(chan struct{})}
	first = len(h.subs[channel]) == 0
	h.subs[channel] = append(h.subs[channel], sub)

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.subs[channel]
			for i, s := range subs {
				if s.ch == sub.ch {
					h.subs[channel] = append(subs[:i], subs[i+1:]...)
					close(sub.ch)
					break
				}
			}
		})
	}
	return sub.ch, cancel, first
}

// Dispatch delivers ev to the channel's subscribers. Full buffers drop the
// event. Sends never block, so the lock is held throughout; that keeps a
// concurrent cancel from closing a channel mid-send.
func (h *Hub) Dispatch(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[ev.Channel] {
		select {
		case <-sub.done:
		case sub.ch <- ev:
		default:
			slog.Warn("event bus: subscriber buffer full, dropping event", "channel", ev.Channel)
		}
	}
}

// Encode marshals a payload into an Event.
func Encode(channel string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("event bus: marshal payload: %w", err)
	}
	return Event{Channel: channel, Payload: data}, nil
}

// MemoryBus is an in-process Bus. It also records the most recent
// published events, which tests use for assertions.
type MemoryBus struct {
	hub *Hub

	mu        sync.Mutex
	published []Event
	failWith  error
}

// maxRecorded bounds MemoryBus history in long-running processes.
const maxRecorded = 256

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{hub: NewHub()}
}

// FailWith makes every following Publish return err. Pass nil to recover.
func (b *MemoryBus) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// Publish delivers synchronously to current subscribers.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload any) error {
	ev, err := Encode(channel, payload)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.failWith != nil {
		err := b.failWith
		b.mu.Unlock()
		return err
	}
	if len(b.published) == maxRecorded {
		b.published = append(b.published[:0], b.published[1:]...)
	}
	b.published = append(b.published, ev)
	b.mu.Unlock()

	b.hub.Dispatch(ev)
	return nil
}

// Subscribe registers a listener on channel.
func (b *MemoryBus) Subscribe(channel string) (<-chan Event, func()) {
	ch, cancel, _ := b.hub.Add(channel)
	return ch, cancel
}

// Published returns a copy of the recorded events, oldest first.
func (b *MemoryBus) Published() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.published...)
}
