// Package ratelimit provides the distributed sliding-window limiter that
// gates calls to shared external APIs, plus a local per-host token bucket used
// for basic fetch politeness.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
	"github.com/JakeFAU/synthesis-engine/internal/kv"
	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"go.uber.org/zap"
)

// DefaultBackoff is the pause between attempts in WaitForToken.
const DefaultBackoff = 5 * time.Second

// Config describes one named limit.
type Config struct {
	Name    string
	Limit   int
	Period  time.Duration
	Backoff time.Duration
}

// Limiter admits at most Limit calls per Period across every process sharing
// the key-value store.
type Limiter struct {
	store   kv.Store
	key     string
	name    string
	limit   int
	period  time.Duration
	backoff time.Duration
	clock   engine.Clock
	logger  *zap.Logger
}

// New constructs a Limiter over the shared store.
func New(store kv.Store, cfg Config, clock engine.Clock, logger *zap.Logger) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("limiter name is required")
	}
	if cfg.Limit <= 0 {
		return nil, fmt.Errorf("limiter %s: limit must be > 0", cfg.Name)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("limiter %s: period must be > 0", cfg.Name)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:   store,
		key:     "rate-limit:" + cfg.Name,
		name:    cfg.Name,
		limit:   cfg.Limit,
		period:  cfg.Period,
		backoff: cfg.Backoff,
		clock:   clock,
		logger:  logger.Named("ratelimit").With(zap.String("key", cfg.Name)),
	}, nil
}

// Acquire takes a token if one is available. It never blocks.
func (l *Limiter) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SlidingWindowAdmit(ctx, l.key, l.clock.Now(), l.period, l.limit)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.name, err)
	}
	if !ok {
		metrics.ObserveRateLimitDenied(l.name)
	}
	return ok, nil
}

// WaitForToken polls Acquire until a token is granted or ctx ends.
func (l *Limiter) WaitForToken(ctx context.Context) error {
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		l.logger.Warn("rate limit reached, waiting", zap.Duration("backoff", l.backoff))
		timer := time.NewTimer(l.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for token %s: %w", l.name, ctx.Err())
		case <-timer.C:
		}
	}
}
