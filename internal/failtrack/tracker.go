// Package failtrack counts consecutive per-source fetch failures in the shared
// key-value store and decides when a source needs healing.
package failtrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/kv"
)

// Defaults for the failure streak.
const (
	DefaultThreshold = 2
	DefaultTTL       = 24 * time.Hour
)

// Config tunes the tracker.
type Config struct {
	Threshold int
	TTL       time.Duration
}

// Tracker records failures and successes per source.
type Tracker struct {
	store     kv.Store
	threshold int64
	ttl       time.Duration
}

// New constructs a Tracker.
func New(store kv.Store, cfg Config) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Tracker{store: store, threshold: int64(cfg.Threshold), ttl: cfg.TTL}, nil
}

// Key returns the counter key for a source.
func Key(sourceID int64) string {
	return fmt.Sprintf("fail:%d", sourceID)
}

// RecordFailure bumps the streak. It reports triggered=true exactly once per
// streak, at which point the counter is already cleared.
func (t *Tracker) RecordFailure(ctx context.Context, sourceID int64) (bool, int64, error) {
	count, reset, err := t.store.IncrWithExpiry(ctx, Key(sourceID), t.ttl, t.threshold)
	if err != nil {
		return false, 0, fmt.Errorf("record failure for source %d: %w", sourceID, err)
	}
	return reset, count, nil
}

// RecordSuccess clears the streak.
func (t *Tracker) RecordSuccess(ctx context.Context, sourceID int64) error {
	if err := t.store.Del(ctx, Key(sourceID)); err != nil {
		return fmt.Errorf("reset failures for source %d: %w", sourceID, err)
	}
	return nil
}

// Count returns the current streak length.
func (t *Tracker) Count(ctx context.Context, sourceID int64) (int64, error) {
	n, err := t.store.Get(ctx, Key(sourceID))
	if err != nil {
		return 0, fmt.Errorf("read failures for source %d: %w", sourceID, err)
	}
	return n, nil
}
