package proxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	limiterKeyPrefix = "webtosite:proxy:rpm:"
	limiterTimeout   = 250 * time.Millisecond
	limiterWindow    = time.Minute
)

// Limiter gates requests per site key. A non-positive limit always
// admits.
type Limiter interface {
	Allow(key string, limit int) bool
}

// RateLimiter enforces per-site requests-per-minute limits on a Redis
// counter. Every Redis failure fails open so a cache outage never
// takes the proxy down with it.
type RateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRateLimiter connects to Redis and verifies the connection.
func NewRateLimiter(addr, password string, db int, logger *slog.Logger) (*RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, err
	}

	return NewRateLimiterWithClient(client, logger), nil
}

// NewRateLimiterWithClient wraps an existing Redis client, mainly for
// tests.
func NewRateLimiterWithClient(client *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger.With("module", "proxy"),
	}
}

// Allow consumes one request slot for the key. A non-positive limit
// disables limiting for the key.
func (rl *RateLimiter) Allow(key string, limit int) bool {
	if rl == nil || limit <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), limiterTimeout)
	defer cancel()

	redisKey := limiterKeyPrefix + key

	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.logger.Error("Rate limiter INCR failed, failing open", "error", err)

		return true
	}

	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, limiterWindow).Err(); err != nil {
			rl.logger.Error("Rate limiter EXPIRE failed", "error", err)
		}
	}

	return counter <= int64(limit)
}

// Close releases the Redis connection.
func (rl *RateLimiter) Close() error {
	if rl == nil || rl.client == nil {
		return nil
	}

	return rl.client.Close()
}

// MemoryLimiter is the in-process fixed-window fallback used when no
// Redis is configured. Counts are per instance, so a multi-replica
// deployment needs the Redis limiter for a shared window.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Allow consumes one request slot for the key. A non-positive limit
// disables limiting for the key.
func (ml *MemoryLimiter) Allow(key string, limit int) bool {
	if ml == nil || limit <= 0 {
		return true
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()

	window, ok := ml.windows[key]
	if !ok || now.Sub(window.start) >= limiterWindow {
		window = &memoryWindow{start: now}
		ml.windows[key] = window
	}

	window.count++

	return window.count <= limit
}
