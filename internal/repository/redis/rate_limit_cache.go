package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/client"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const (
	rateLimitPrefix = "rate_limit:"
	tempLockPrefix  = "temp_lock:"
)

// slidingWindowScript trims entries older than the window, adds the new
// failure and returns the count left in the window.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, ttl_ms)
return redis.call('ZCARD', key)
`)

// RateLimitCache implements repository.RateLimitStore on Redis so limits
// hold across instances.
type RateLimitCache struct {
	client *client.RedisClient
}

var _ repository.RateLimitStore = (*RateLimitCache)(nil)

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func (c *RateLimitCache) RecordFailure(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()

	count, err := slidingWindowScript.Run(ctx, c.client.Client,
		[]string{rateLimitPrefix + key},
		nowMs, windowStart, window.Milliseconds(), member,
	).Int()
	if err != nil {
		util.Error("Failed to record rate limit failure",
			zap.String("key", key),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}

	util.Debug("Rate limit failure recorded",
		zap.String("key", key),
		zap.Int("count", count))
	return count, nil
}

func (c *RateLimitCache) ResetFailures(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Client.Del(ctx, rateLimitPrefix+key).Err(); err != nil {
		util.Error("Failed to reset rate limit counter", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}

// SetLock stores the lock deadline as the value so LockRemaining measures
// against the caller's clock; the key TTL only reclaims memory.
func (c *RateLimitCache) SetLock(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	until := now.Add(ttl).UnixMilli()
	if err := c.client.Client.Set(ctx, tempLockPrefix+key, until, ttl).Err(); err != nil {
		util.Error("Failed to set temporary lock",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set temporary lock: %w", err)
	}
	util.Debug("Temporary lock set", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *RateLimitCache) LockRemaining(ctx context.Context, key string, now time.Time) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	until, err := c.client.Client.Get(ctx, tempLockPrefix+key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		util.Error("Failed to check lock", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("failed to check lock: %w", err)
	}
	return lockRemaining(until, now), nil
}

func lockRemaining(untilMs int64, now time.Time) time.Duration {
	remaining := time.UnixMilli(untilMs).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return remaining
}
