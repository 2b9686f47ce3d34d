package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisCommander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCacheConfig configures the Redis-backed report cache.
type RedisCacheConfig struct {
	Namespace string
	TTL       time.Duration
}

// RedisCache shares cached reports between instances through Redis.
type RedisCache struct {
	client    redisCommander
	closeFn   func() error
	namespace string
	ttl       time.Duration
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.UniversalClient, cfg RedisCacheConfig) *RedisCache {
	closeFn := func() error { return nil }
	if client != nil {
		closeFn = client.Close
	}
	return newRedisCacheFromCommander(client, closeFn, cfg)
}

func newRedisCacheFromCommander(client redisCommander, closeFn func() error, cfg RedisCacheConfig) *RedisCache {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "gitboss-agent"
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	return &RedisCache{
		client:    client,
		closeFn:   closeFn,
		namespace: namespace,
		ttl:       cfg.TTL,
	}
}

// Get reads a cached value. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("redis cache is not initialized")
	}
	value, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return value, true, nil
}

// Set stores a value with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("redis cache is not initialized")
	}
	if err := c.client.Set(ctx, c.namespaced(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error {
	if c == nil || c.closeFn == nil {
		return nil
	}
	return c.closeFn()
}

func (c *RedisCache) namespaced(key string) string {
	return c.namespace + ":" + key
}
