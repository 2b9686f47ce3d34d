package app

import (
	"fmt"

	"github.com/gitboss/agent-api/internal/cache"
	"github.com/gitboss/agent-api/internal/config"
	"github.com/redis/go-redis/v9"
)

// newCacheBackend builds the report cache for the configured backend.
func newCacheBackend(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		return cache.NewRedisCache(client, cache.RedisCacheConfig{
			Namespace: cfg.Cache.Namespace,
			TTL:       cfg.Cache.TTL,
		}), nil
	case config.CacheBackendMemory, "":
		return cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
