package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/resilience"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleStatuses() []resilience.BreakerStatus {
	return []resilience.BreakerStatus{
		{Provider: "anthropic", State: "closed", FailureCount: 0},
		{Provider: "openai", State: "open", FailureCount: 5},
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteStatuses(ctx, sampleStatuses()))

	got, err := store.ReadStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "anthropic", got[0].Provider)
	assert.Equal(t, "openai", got[1].Provider)
	assert.Equal(t, "open", got[1].State)
	assert.Equal(t, 5, got[1].FailureCount)
}

func TestRedisStoreWriteReplacesSnapshot(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteStatuses(ctx, sampleStatuses()))
	require.NoError(t, store.WriteStatuses(ctx, []resilience.BreakerStatus{
		{Provider: "groq", State: "closed"},
	}))

	got, err := store.ReadStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "groq", got[0].Provider)
}

func TestRedisStoreEmpty(t *testing.T) {
	store := newTestRedisStore(t)

	got, err := store.ReadStatuses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRedisStoreBadAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.WriteStatuses(ctx, sampleStatuses()))
	got, err := store.ReadStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleStatuses(), got)
}

func TestMirrorWritesSnapshots(t *testing.T) {
	store := NewMemoryStore()
	statuses := sampleStatuses()
	mirror := NewMirror(store, func() []resilience.BreakerStatus { return statuses }, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mirror.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := store.ReadStatuses(context.Background())
		return err == nil && len(got) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop")
	}
}
