package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/synthesis-engine/internal/kv/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, clock *fakeClock, limit int, period time.Duration) *Limiter {
	t.Helper()
	l, err := New(memory.New(clock.Now), Config{Name: "llm", Limit: limit, Period: period, Backoff: time.Millisecond},
		clock, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestAcquireAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(t, clock, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.Acquire(ctx)
		require.NoError(t, err)
		require.True(t, ok, "call %d should be admitted", i+1)
	}
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok, "call N+1 should be denied")

	clock.Advance(time.Minute)
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok, "capacity returns after the period elapses")
}

func TestWaitForTokenHonorsCancellation(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(t, clock, 1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.WaitForToken(ctx))
	err := l.WaitForToken(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWaitForTokenResumesAfterWindow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(t, clock, 1, time.Second)
	ctx := context.Background()
	require.NoError(t, l.WaitForToken(ctx))

	done := make(chan error, 1)
	go func() { done <- l.WaitForToken(ctx) }()
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForToken did not resume after the window elapsed")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	_, err := New(memory.New(nil), Config{Name: "x", Limit: 0, Period: time.Second}, clock, nil)
	require.Error(t, err)
	_, err = New(memory.New(nil), Config{Name: "x", Limit: 1}, clock, nil)
	require.Error(t, err)
	_, err = New(nil, Config{Name: "x", Limit: 1, Period: time.Second}, clock, nil)
	require.Error(t, err)
}
