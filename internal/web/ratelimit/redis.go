package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter implements a Redis-backed sliding window rate limiter
type RedisRateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// RedisRateLimiterConfig holds configuration for the Redis rate limiter
type RedisRateLimiterConfig struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	// Prefix is prepended to every Redis key
	Prefix string
}

// slidingWindow trims entries older than the window, admits the request when
// under the limit and returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local current = redis.call('ZCARD', key)
local allowed = 0
if current < limit then
	redis.call('ZADD', key, now, member)
	redis.call('EXPIRE', key, ttl)
	current = current + 1
	allowed = 1
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = now
if oldest[2] then
	oldest_score = tonumber(oldest[2])
end
return {allowed, current, tostring(oldest_score)}
`)

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(config RedisRateLimiterConfig) (*RedisRateLimiter, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}

	return &RedisRateLimiter{
		client: config.Client,
		limit:  config.Limit,
		window: config.Window,
		prefix: config.Prefix,
		now:    time.Now,
	}, nil
}

// Allow checks if a request should be allowed for the given key using sliding window
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (*RateLimitInfo, error) {
	now := r.now()
	windowStart := now.Add(-r.window)
	ttl := int(r.window.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixNano(),
		windowStart.UnixNano(),
		r.limit,
		ttl,
		uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return nil, errors.New("unexpected redis script result")
	}

	allowed, ok := result[0].(int64)
	if !ok {
		return nil, errors.New("invalid allowed value from redis")
	}
	count, ok := result[1].(int64)
	if !ok {
		return nil, errors.New("invalid count value from redis")
	}
	oldestRaw, ok := result[2].(string)
	if !ok {
		return nil, errors.New("invalid oldest value from redis")
	}
	oldest, err := strconv.ParseFloat(oldestRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid oldest value from redis: %w", err)
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return &RateLimitInfo{
		Limit:     r.limit,
		Remaining: remaining,
		ResetAt:   time.Unix(0, int64(oldest)).Add(r.window),
		Allowed:   allowed == 1,
	}, nil
}

// Reset removes all rate limit data for the given key
func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// GetCount returns the number of requests counted in the current window
func (r *RedisRateLimiter) GetCount(ctx context.Context, key string) (int, error) {
	redisKey := r.prefix + key
	windowStart := r.now().Add(-r.window)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to get count: %w", err)
	}

	return int(countCmd.Val()), nil
}
