// Package ratelimit provides per-key request limiting backed by Redis or
// process memory. The API middleware and webhook delivery share it.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter defines the interface for rate limiting implementations
type RateLimiter interface {
	// Allow consumes one unit for key when available
	Allow(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitInfo contains information about the current rate limit state
type RateLimitInfo struct {
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Remaining is the number of requests remaining in the current window
	Remaining int
	// ResetAt is the earliest time another request will be allowed
	ResetAt time.Time
	// Allowed indicates whether the request should be allowed
	Allowed bool
}

// RetryAfter returns how long a denied caller should wait, never negative
func (i *RateLimitInfo) RetryAfter(now time.Time) time.Duration {
	d := i.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Options selects and sizes a limiter
type Options struct {
	Limit  int
	Window time.Duration
	Prefix string
}

// New returns a Redis sliding-window limiter when client is non-nil and an
// in-memory token bucket otherwise
func New(client *redis.Client, opts Options) (RateLimiter, error) {
	if client != nil {
		return NewRedisRateLimiter(RedisRateLimiterConfig{
			Client: client,
			Limit:  opts.Limit,
			Window: opts.Window,
			Prefix: opts.Prefix,
		})
	}
	return NewTokenBucketWithConfig(TokenBucketConfig{
		Capacity:        opts.Limit,
		RefillRate:      opts.Window,
		CleanupInterval: 5 * time.Minute,
	})
}
