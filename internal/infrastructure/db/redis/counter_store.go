package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecommerce-platform/user-service/internal/core/ports"
)

// incrScript increments the window counter unless the quota is already
// exhausted. Rejected requests never grow the counter, so sustained abuse
// cannot inflate it past quota. The expiry is armed on the first hit of a
// window and left alone afterwards.
var incrScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local quota = tonumber(ARGV[1])
if current >= quota then
    return {current, redis.call('PTTL', KEYS[1]), 0}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {count, redis.call('PTTL', KEYS[1]), 1}
`)

// refundScript decrements only while the counter exists and is positive, so
// refunds can never push a window negative or resurrect an expired key.
var refundScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
    redis.call('DECR', KEYS[1])
end
return current
`)

// CounterStore implements the shared distributed rate-limit counters on
// Redis. Counters expire at the window boundary; no application-side
// cleanup exists.
type CounterStore struct {
	client *redis.Client
}

func NewCounterStore(client *redis.Client) *CounterStore {
	return &CounterStore{client: client}
}

// Incr performs the quota-capped atomic increment for key.
func (s *CounterStore) Incr(ctx context.Context, key string, quota int64, window time.Duration) (ports.CounterResult, error) {
	raw, err := incrScript.Run(ctx, s.client, []string{key}, quota, window.Milliseconds()).Result()
	if err != nil {
		return ports.CounterResult{}, fmt.Errorf("counter incr: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return ports.CounterResult{}, fmt.Errorf("counter incr: unexpected reply %v", raw)
	}

	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	allowed, _ := vals[2].(int64)

	remaining := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		remaining = 0
	}

	return ports.CounterResult{
		Count:     count,
		Remaining: remaining,
		Allowed:   allowed == 1,
	}, nil
}

// Refund issues the compensating decrement for a request that turned out
// not to count toward the quota.
func (s *CounterStore) Refund(ctx context.Context, key string) error {
	if err := refundScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("counter refund: %w", err)
	}
	return nil
}
