// Package memory implements the shared key-value store in process memory for
// single-node deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	value   int64
	expires time.Time
}

type window struct {
	tokens  []time.Time
	expires time.Time
}

// Store is a mutex-guarded map store.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]counter
	windows  map[string]*window
}

// New constructs a Store. A nil now defaults to time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:      now,
		counters: make(map[string]counter),
		windows:  make(map[string]*window),
	}
}

// SlidingWindowAdmit implements kv.Store.
func (s *Store) SlidingWindowAdmit(
	_ context.Context,
	key string,
	now time.Time,
	period time.Duration,
	limit int,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || (!w.expires.IsZero() && !now.Before(w.expires)) {
		w = &window{}
		s.windows[key] = w
	}
	cutoff := now.Add(-period)
	kept := w.tokens[:0]
	for _, ts := range w.tokens {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.tokens = kept
	if len(w.tokens) >= limit {
		return false, nil
	}
	w.tokens = append(w.tokens, now)
	w.expires = now.Add(period)
	return true, nil
}

// IncrWithExpiry implements kv.Store.
func (s *Store) IncrWithExpiry(_ context.Context, key string, ttl time.Duration, resetAt int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := s.live(key, now)
	c.value++
	c.expires = now.Add(ttl)
	if resetAt > 0 && c.value >= resetAt {
		delete(s.counters, key)
		return c.value, true, nil
	}
	s.counters[key] = c
	return c.value, false, nil
}

// Get implements kv.Store.
func (s *Store) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key, s.now()).value, nil
}

// Del implements kv.Store.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.counters, k)
		delete(s.windows, k)
	}
	return nil
}

func (s *Store) live(key string, now time.Time) counter {
	c, ok := s.counters[key]
	if !ok {
		return counter{}
	}
	if !now.Before(c.expires) {
		delete(s.counters, key)
		return counter{}
	}
	return c
}
