// Package cache provides the TTL cache shared by all pipeline workers.
//
// Entries are last-write-wins; an entry older than the TTL is a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auto_seo_article_pipeline/config"
	"auto_seo_article_pipeline/logger"
	"auto_seo_article_pipeline/metrics"
)

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = time.Hour

// Cache stores opaque values under logical operation keys such as "serp:<topic>".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// New builds the cache selected by cfg.Driver ("memory" or "redis").
func New(cfg config.CacheConfig, log logger.Logger, m *metrics.Metrics) (Cache, error) {
	ttl := cfg.TTL.Duration
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(ttl, m), nil
	case "redis":
		client, err := NewRedisClient(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if log != nil {
			log.Info("redis cache connected", logger.String("address", cfg.RedisAddress))
		}
		return NewRedis(client, cfg.KeyPrefix, ttl, m), nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

// GetJSON decodes a cached JSON value. A value that no longer decodes counts as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, false, nil
	}
	return out, true, nil
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, c Cache, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return c.Set(ctx, key, raw)
}

// ErrEmptyKey is returned for a blank cache key.
var ErrEmptyKey = errors.New("cache key is required")
