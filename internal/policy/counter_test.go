package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisCounterStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounterStore(client)
}

func TestRedisCounterStore_IncrementIfBelow(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		current, allowed, err := store.IncrementIfBelow(ctx, "k", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, current)
	}

	current, allowed, err := store.IncrementIfBelow(ctx, "k", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(3), current, "rejected increment must not move the counter")

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)
}

func TestRedisCounterStore_ConcurrentExactness(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	const (
		workers = 50
		limit   = 13
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := store.IncrementIfBelow(ctx, "burst", limit, time.Hour)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, allowed, "exactly limit requests may pass under contention")

	value, err := store.Get(ctx, "burst")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), value)
}

func TestMemoryCounterStore_ConcurrentExactness(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	const (
		workers = 100
		limit   = 25
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := store.IncrementIfBelow(ctx, "burst", limit, time.Hour)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, allowed)
}

func TestMemoryCounterStore_Get(t *testing.T) {
	store := NewMemoryCounterStore()
	ctx := context.Background()

	value, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, value)

	_, _, err = store.IncrementIfBelow(ctx, "k", 10, time.Hour)
	require.NoError(t, err)

	value, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}
