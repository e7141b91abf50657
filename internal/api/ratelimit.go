package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"opinionsim/internal/common/config"
)

// Limiter decides whether a client may make another request in the current
// window. Allow errors mean the limiter backend is unavailable; callers
// fail open so a limiter outage never blocks traffic.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// MemoryLimiter is a fixed-window counter per client, suitable for a
// single-process deployment.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	windows   map[string]*clientWindow
	lastSweep time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

func NewMemoryLimiter(cfg config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		limit:     cfg.RequestsPerWindow,
		window:    cfg.Window(),
		windows:   make(map[string]*clientWindow),
		lastSweep: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, clientID string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop expired windows at most once per window length, so the map stays
	// bounded by the number of clients seen in the current window.
	if now.Sub(l.lastSweep) >= l.window {
		for id, w := range l.windows {
			if now.Sub(w.start) >= l.window {
				delete(l.windows, id)
			}
		}
		l.lastSweep = now
	}

	w, ok := l.windows[clientID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[clientID] = &clientWindow{start: now, count: 1}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// RedisLimiter is a fixed-window counter shared across replicas, using
// INCR with an expiry set on the first increment of each window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, cfg config.RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, limit: cfg.RequestsPerWindow, window: cfg.Window()}
}

func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", clientID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}
