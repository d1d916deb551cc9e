// Package redis implements the shared key-value store on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config captures Redis connection settings.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return 1
end
return 0
`)

var incrExpiryScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
local reset_at = tonumber(ARGV[2])
if reset_at > 0 and n >= reset_at then
  redis.call('DEL', KEYS[1])
  return {n, 1}
end
return {n, 0}
`)

// Store wraps a go-redis client.
type Store struct {
	client *goredis.Client
	seq    atomic.Uint64
}

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// SlidingWindowAdmit implements kv.Store.
func (s *Store) SlidingWindowAdmit(
	ctx context.Context,
	key string,
	now time.Time,
	window time.Duration,
	limit int,
) (bool, error) {
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, s.member(now)).Int64()
	if err != nil {
		return false, fmt.Errorf("sliding window %s: %w", key, err)
	}
	return res == 1, nil
}

// IncrWithExpiry implements kv.Store.
func (s *Store) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration, resetAt int64) (int64, bool, error) {
	vals, err := incrExpiryScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds(), resetAt).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("incr %s: %w", key, err)
	}
	if len(vals) != 2 {
		return 0, false, fmt.Errorf("incr %s: unexpected reply length %d", key, len(vals))
	}
	return vals[0], vals[1] == 1, nil
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

// Del implements kv.Store.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// member makes sorted-set entries unique even when two tokens share a timestamp.
func (s *Store) member(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)
}
