// Package kv defines the shared key-value capabilities used for distributed
// coordination: sliding-window admission and expiring counters.
package kv

import (
	"context"
	"time"
)

// Store is the shared key-value store. Every method is a single atomic
// round-trip so concurrent processes never interleave partial updates.
type Store interface {
	// SlidingWindowAdmit drops tokens older than now-window, and records a new
	// token only when fewer than limit remain. The key expires after window.
	SlidingWindowAdmit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
	// IncrWithExpiry increments key and refreshes its TTL. When resetAt > 0 and
	// the new value reaches it, the key is deleted in the same step and reset
	// is true. Only one caller can observe reset for a given streak.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration, resetAt int64) (count int64, reset bool, err error)
	// Get returns the integer stored at key, or 0 when missing.
	Get(ctx context.Context, key string) (int64, error)
	// Del removes keys.
	Del(ctx context.Context, keys ...string) error
}
