package redisx_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/redisx"
)

// testClient skips unless REDIS_ADDR points at a disposable Redis.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	rdb, err := redisx.NewClient(context.Background(), redisx.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func testLocker(t *testing.T) *redisx.Locker {
	return redisx.NewLocker(testClient(t), "catalogd-test:"+uuid.NewString()+":")
}

func TestLocker_ExclusiveAndExpiry(t *testing.T) {
	l := testLocker(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, domain.JobRefresh, "a", "r1", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, domain.JobRefresh, "b", "r2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	alive, err := l.Heartbeat(ctx, domain.JobRefresh, "a", 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, alive)

	time.Sleep(300 * time.Millisecond)
	expired, err := l.ExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "a", expired[0].Holder)
	assert.Equal(t, "r1", expired[0].RunID)

	alive, err = l.Heartbeat(ctx, domain.JobRefresh, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, l.Release(ctx, domain.JobRefresh, "a"))
	expired, err = l.ExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestLocker_ReleaseOnlyByHolder(t *testing.T) {
	l := testLocker(t)
	ctx := context.Background()

	ok, _ := l.Acquire(ctx, domain.JobDiscovery, "a", "r1", time.Minute)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, domain.JobDiscovery, "b"))
	ok, _ = l.Acquire(ctx, domain.JobDiscovery, "b", "r2", time.Minute)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, domain.JobDiscovery, "a"))
	ok, _ = l.Acquire(ctx, domain.JobDiscovery, "b", "r2", time.Minute)
	assert.True(t, ok)
}

func TestLocker_ReleaseExpired_SameHolderNewRun_LeaseKept(t *testing.T) {
	l := testLocker(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, domain.JobManualRefresh, "a", "r1", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(200 * time.Millisecond)
	expired, err := l.ExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	ok, err = l.Acquire(ctx, domain.JobManualRefresh, "a", "r2", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := l.ReleaseExpired(ctx, expired[0])
	require.NoError(t, err)
	assert.False(t, released, "holder key is live again")

	time.Sleep(200 * time.Millisecond)
	released, err = l.ReleaseExpired(ctx, expired[0])
	require.NoError(t, err)
	assert.False(t, released, "record now names r2")

	expired, err = l.ExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "r2", expired[0].RunID)
	released, err = l.ReleaseExpired(ctx, expired[0])
	require.NoError(t, err)
	assert.True(t, released)
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	rdb := testClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := redisx.NewBus(rdb)
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop()

	channel := "catalogd-test-" + uuid.NewString()
	ch, unsub := bus.Subscribe(channel)
	defer unsub()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		require.NoError(t, bus.Publish(ctx, channel, domain.SyncEvent{Type: "full-sync", Message: "ok"}))
		select {
		case ev := <-ch:
			var got domain.SyncEvent
			require.NoError(t, json.Unmarshal(ev.Payload, &got))
			assert.Equal(t, "full-sync", got.Type)
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("timed out waiting for message")
		}
	}
}
