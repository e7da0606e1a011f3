package cache

import (
	"context"
	"sync"
	"time"

	"auto_seo_article_pipeline/metrics"
)

type entry struct {
	value    []byte
	storedAt time.Time
}

// MemoryCache is an in-process TTL cache. Each pipeline run gets its own instance.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
	metrics *metrics.Metrics
}

func NewMemory(ttl time.Duration, m *metrics.Metrics) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]entry), now: time.Now, metrics: m}
}

// WithClock replaces the time source; used by tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.storedAt) >= c.ttl {
		ok = false
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	c.metrics.Cache(ok)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	c.mu.Lock()
	c.entries[key] = entry{value: append([]byte(nil), value...), storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
