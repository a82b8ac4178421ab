package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fidelio/fidelio/internal/clock"
)

// Limiter answers whether one more event for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis is a fixed-window counter shared by every process: INCR the key and
// set its expiry on the first hit of each window.
type Redis struct {
	cache  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedis(cache *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{cache: cache, prefix: prefix, limit: int64(limit), window: window}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	cnt, err := l.cache.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		if err := l.cache.Expire(ctx, k, l.window).Err(); err != nil {
			return false, err
		}
	}
	return cnt <= l.limit, nil
}

type window struct {
	start time.Time
	count int64
}

// Memory is a single-process fixed-window limiter for development and tests.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   int64
	window  time.Duration
	buckets map[string]window
}

func NewMemory(limit int, win time.Duration, clk clock.Clock) *Memory {
	return &Memory{clock: clock.OrReal(clk), limit: int64(limit), window: win, buckets: make(map[string]window)}
}

func (l *Memory) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	w := l.buckets[key]
	if w.start.IsZero() || !now.Before(w.start.Add(l.window)) {
		w = window{start: now}
	}
	w.count++
	l.buckets[key] = w
	return w.count <= l.limit, nil
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
