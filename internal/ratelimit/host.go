package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/metrics"
	"golang.org/x/time/rate"
)

// HostConfig holds per-host politeness settings.
type HostConfig struct {
	RPS   float64
	Burst int
}

// HostLimiter keeps one token bucket per host.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewHostLimiter creates a HostLimiter. A non-positive RPS disables limiting.
func NewHostLimiter(cfg HostConfig) *HostLimiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostWait(host, waited)
	}
	return nil
}
