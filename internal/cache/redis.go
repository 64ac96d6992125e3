package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/pkg/logger"
)

// RedisCache is a Cache backed by a Redis client, used when the stats
// aggregator runs alongside other processes that need to share the same
// warm cache (e.g. multiple API replicas behind a load balancer).
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	log        *logger.Logger
}

// NewRedisCache builds a RedisCache from an existing client.
func NewRedisCache(client *redis.Client, defaultTTL time.Duration, log *logger.Logger) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Second
	}
	if log == nil {
		log = logger.NewDefault("cache.redis")
	}
	return &RedisCache{client: client, defaultTTL: defaultTTL, log: log}
}

// Get returns the cached value for key. Redis misses and unavailability
// both surface as (nil, false); callers fall back to recomputation rather
// than treating a cold cache as an error.
func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("key", key).Warn("cache backend unavailable on read")
		}
		return nil, false
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache payload decode failed")
		return nil, false
	}
	return value, true
}

// Set stores value under key with the given ttl, or the cache's default
// ttl when ttl <= 0. Failures are logged, never returned: a cache write
// failure must not interrupt the caller's hot path.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache payload encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		svcErr := fcerrors.CacheUnavailable("redis", err)
		c.log.WithError(svcErr).WithField("key", key).Warn("cache write failed")
	}
}

// Invalidate removes key.
func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache invalidate failed")
	}
}

// InvalidateAll flushes the configured logical database. It is intended
// for test and maintenance use, not the request hot path.
func (c *RedisCache) InvalidateAll(ctx context.Context) {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.log.WithError(err).Warn("cache flush failed")
	}
}
