package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is a process-local cache with TTL support, used when Redis is
// not configured
type MemoryCache struct {
	data   sync.Map
	config CacheConfig
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

type cacheItem struct {
	value      []byte
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultCacheConfig())
}

// NewMemoryCacheWithConfig creates a new in-memory cache with custom configuration.
// Call Close to stop the expiry sweeper.
func NewMemoryCacheWithConfig(config CacheConfig) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		config: config,
		now:    time.Now,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go mc.cleanupExpired(ctx, time.Minute)

	return mc
}

// load returns the live item for fullKey, evicting it when expired
func (m *MemoryCache) load(fullKey string) (cacheItem, bool) {
	value, ok := m.data.Load(fullKey)
	if !ok {
		return cacheItem{}, false
	}
	item := value.(cacheItem)
	if item.expired(m.now()) {
		m.data.Delete(fullKey)
		return cacheItem{}, false
	}
	return item, true
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, ok := m.load(m.config.Prefix + key)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}
	return item.value, nil
}

// Set stores a value in the cache. A zero ttl uses the default; a negative
// ttl stores the value without expiry.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}

	item := cacheItem{value: value}
	if ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.data.Store(m.config.Prefix+key, item)
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Delete(m.config.Prefix + key)
	return nil
}

// DeletePrefix removes every key starting with prefix
func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPrefix := m.config.Prefix + prefix
	m.data.Range(func(key, value interface{}) bool {
		if strings.HasPrefix(key.(string), fullPrefix) {
			m.data.Delete(key)
		}
		return true
	})
	return nil
}

// Clear removes all values from the cache
func (m *MemoryCache) Clear(ctx context.Context) error {
	return m.DeletePrefix(ctx, "")
}

// Exists checks if a live key exists in the cache
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := m.load(m.config.Prefix + key)
	return ok, nil
}

// Close stops the expiry sweeper and waits for it to exit
func (m *MemoryCache) Close() error {
	m.cancel()
	<-m.done
	return nil
}

func (m *MemoryCache) cleanupExpired(ctx context.Context, every time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.now()
			m.data.Range(func(key, value interface{}) bool {
				if value.(cacheItem).expired(now) {
					m.data.Delete(key)
				}
				return true
			})
		}
	}
}
