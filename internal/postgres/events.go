package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolscout/catalogd/internal/events"
)

// PgEventBus implements events.Bus with Postgres LISTEN/NOTIFY. NOTIFY goes
// through the pool; LISTEN lives on one dedicated connection owned by the
// listen loop, which is the only goroutine that touches it.
type PgEventBus struct {
	pool *pgxpool.Pool
	hub  *events.Hub

	mu        sync.Mutex
	pending   []string
	listening map[string]bool
	interrupt context.CancelFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPgEventBus creates a new event bus. Call Start to begin listening.
func NewPgEventBus(pool *pgxpool.Pool) *PgEventBus {
	return &PgEventBus{
		pool:      pool,
		hub:       events.NewHub(),
		listening: make(map[string]bool),
	}
}

// Start opens the dedicated connection and runs the listen loop until ctx
// is cancelled or Stop is called.
func (b *PgEventBus) Start(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, b.pool.Config().ConnConfig.Copy())
	if err != nil {
		return fmt.Errorf("event bus: acquire listen connection: %w", err)
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.listenLoop(ctx, conn)

	slog.Info("event bus: postgres listener started")
	return nil
}

// Stop cancels the listen loop and closes the dedicated connection.
func (b *PgEventBus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

// Publish sends pg_notify with the JSON-encoded payload.
func (b *PgEventBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("event bus: marshal payload: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(data)); err != nil {
		return fmt.Errorf("event bus: notify %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a listener. The first subscriber of a channel queues
// a LISTEN for the loop and wakes it.
func (b *PgEventBus) Subscribe(channel string) (<-chan events.Event, func()) {
	ch, cancel, first := b.hub.Add(channel)
	if first {
		b.mu.Lock()
		if !b.listening[channel] {
			b.pending = append(b.pending, channel)
		}
		wake := b.interrupt
		b.mu.Unlock()
		if wake != nil {
			wake()
		}
	}
	return ch, cancel
}

func (b *PgEventBus) listenLoop(ctx context.Context, conn *pgx.Conn) {
	defer close(b.done)
	defer func() {
		_ = conn.Close(context.WithoutCancel(ctx))
		slog.Info("event bus: postgres listener stopped")
	}()

	for {
		b.mu.Lock()
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()

		for _, channel := range pending {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("event bus: LISTEN failed", "channel", channel, "error", err)
				continue
			}
			b.mu.Lock()
			b.listening[channel] = true
			b.mu.Unlock()
		}

		waitCtx, wake := context.WithCancel(ctx)
		b.mu.Lock()
		b.interrupt = wake
		queued := len(b.pending) > 0
		b.mu.Unlock()
		if queued {
			wake()
		}

		n, err := conn.WaitForNotification(waitCtx)
		wake()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(waitCtx.Err(), context.Canceled) {
				continue
			}
			slog.Error("event bus: wait for notification failed", "error", err)
			return
		}

		b.hub.Dispatch(events.Event{Channel: n.Channel, Payload: json.RawMessage(n.Payload)})
	}
}
