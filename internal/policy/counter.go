package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the atomic usage counter behind the gate. The
// read-check-increment must be a single atomic step per key; anything
// weaker lets concurrent requests exceed the nominal limit.
type CounterStore interface {
	// IncrementIfBelow increments the counter at key if its current
	// value is below limit. Returns the counter value after the call
	// and whether the increment happened. TTL applies on first write.
	IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)

	// Get returns the current counter value, zero when absent.
	Get(ctx context.Context, key string) (int64, error)
}

// Lua script for atomic check-and-increment. The whole script runs as
// one step on the server, so the limit cannot be overshot under
// concurrent load from any number of worker processes.
const luaIncrementIfBelow = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call('GET', key) or '0')
if current >= limit then
    return {current, 0}
end

current = redis.call('INCR', key)
if current == 1 and ttl > 0 then
    redis.call('EXPIRE', key, ttl)
end
return {current, 1}
`

// RedisCounterStore backs counters with Redis, the production store.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// IncrementIfBelow runs the check-and-increment as one Lua evaluation.
func (s *RedisCounterStore) IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	ttlSeconds := int64(ttl / time.Second)

	result, err := s.client.Eval(ctx, luaIncrementIfBelow, []string{key}, limit, ttlSeconds).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("failed to increment counter: %w", err)
	}
	if len(result) != 2 {
		return 0, false, fmt.Errorf("unexpected counter script result length: %d", len(result))
	}

	return result[0], result[1] == 1, nil
}

// Get returns the current value of a counter key.
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return value, nil
}

// MemoryCounterStore is a process-local store guarded by a mutex. Used
// in tests and single-process deployments; the previous platform kept
// these counters in an unsynchronized map, which is exactly the defect
// this type exists to avoid.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]int64)}
}

// IncrementIfBelow performs the check and increment under one lock.
func (s *MemoryCounterStore) IncrementIfBelow(_ context.Context, key string, limit int64, _ time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.counters[key]
	if current >= limit {
		return current, false, nil
	}
	current++
	s.counters[key] = current
	return current, true, nil
}

// Get returns the current counter value.
func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}
