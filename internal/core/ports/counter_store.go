package ports

import (
	"context"
	"time"
)

// CounterResult reports the outcome of a quota-capped increment.
type CounterResult struct {
	// Count is the counter value after the call. Once the quota is reached
	// the value stays put: rejected requests do not grow the counter.
	Count int64
	// Remaining is the time left in the current window.
	Remaining time.Duration
	// Allowed is false when the pre-increment count had already reached
	// the quota.
	Allowed bool
}

// CounterStore is the shared distributed counter used by the rate limiter.
// Counters are created on first increment, expire at the window boundary and
// are never cleaned up by application logic.
type CounterStore interface {
	// Incr atomically increments the counter for key unless the quota is
	// already exhausted (increment-and-check in one round trip).
	Incr(ctx context.Context, key string, quota int64, window time.Duration) (CounterResult, error)

	// Refund issues a compensating decrement, used by the auth tier so
	// successful requests do not count toward the quota.
	Refund(ctx context.Context, key string) error
}
