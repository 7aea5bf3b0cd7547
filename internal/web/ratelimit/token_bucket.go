package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenBucket implements an in-memory token bucket rate limiter.
// Capacity tokens refill continuously over RefillRate.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate time.Duration
	cleanup    *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
	now        func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketConfig holds configuration for the token bucket rate limiter
type TokenBucketConfig struct {
	// Capacity is the maximum number of tokens in the bucket
	Capacity int
	// RefillRate is how long an empty bucket takes to refill completely
	RefillRate time.Duration
	// CleanupInterval is how often idle buckets are dropped; zero disables cleanup
	CleanupInterval time.Duration
}

// NewTokenBucketWithConfig creates a token bucket rate limiter
func NewTokenBucketWithConfig(config TokenBucketConfig) (*TokenBucket, error) {
	if config.Capacity <= 0 {
		return nil, errors.New("capacity must be greater than 0")
	}
	if config.RefillRate <= 0 {
		return nil, errors.New("refill rate must be greater than 0")
	}

	tb := &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   config.Capacity,
		refillRate: config.RefillRate,
		done:       make(chan struct{}),
		now:        time.Now,
	}

	if config.CleanupInterval > 0 {
		tb.cleanup = time.NewTicker(config.CleanupInterval)
		go tb.cleanupLoop()
	}

	return tb, nil
}

// perToken is the time needed to refill one token
func (tb *TokenBucket) perToken() time.Duration {
	return tb.refillRate / time.Duration(tb.capacity)
}

// Allow checks if a request should be allowed for the given key
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*RateLimitInfo, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()

	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(tb.capacity), lastRefill: now}
		tb.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens += float64(tb.capacity) * float64(elapsed) / float64(tb.refillRate)
		if b.tokens > float64(tb.capacity) {
			b.tokens = float64(tb.capacity)
		}
		b.lastRefill = now
	}

	info := &RateLimitInfo{Limit: tb.capacity}
	if b.tokens >= 1 {
		b.tokens--
		info.Allowed = true
	}
	info.Remaining = int(b.tokens)

	if b.tokens >= 1 {
		info.ResetAt = now
	} else {
		missing := 1 - b.tokens
		info.ResetAt = now.Add(time.Duration(missing * float64(tb.perToken())))
	}

	return info, nil
}

func (tb *TokenBucket) cleanupLoop() {
	for {
		select {
		case <-tb.cleanup.C:
			tb.cleanupOldBuckets()
		case <-tb.done:
			return
		}
	}
}

// cleanupOldBuckets drops buckets idle long enough to have refilled completely
func (tb *TokenBucket) cleanupOldBuckets() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) > tb.refillRate {
			delete(tb.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine
func (tb *TokenBucket) Close() error {
	tb.closeOnce.Do(func() {
		close(tb.done)
		if tb.cleanup != nil {
			tb.cleanup.Stop()
		}
	})
	return nil
}
