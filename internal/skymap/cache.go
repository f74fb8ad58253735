package skymap

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores raw sky map bytes by URL.
type Cache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Set(ctx context.Context, url string, data []byte) error
}

const cachePrefix = "sentinel:skymap:"

// RedisCache keeps downloaded maps in Redis with a fixed TTL so that a
// requeued notice does not download the same map twice.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to the Redis instance at rawURL.
func NewRedisCache(rawURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl}, nil
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, cachePrefix+url).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, url string, data []byte) error {
	return c.rdb.Set(ctx, cachePrefix+url, data, c.ttl).Err()
}
