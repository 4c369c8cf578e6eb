package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// ClientSource yields the current Redis client.
type ClientSource interface {
	Get() redis.UniversalClient
}

type Cache struct {
	Redis     ClientSource
	Namespace string
}

func (c *Cache) key(k string) string { return c.Namespace + ":" + k }

// Get value from Redis
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.Redis.Get().Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Store data to Redis
func (c *Cache) Store(ctx context.Context, key string, ttl time.Duration, value string) error {
	return c.Redis.Get().Set(ctx, c.key(key), value, ttl).Err()
}

// Delete key from Redis
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.Redis.Get().Del(ctx, c.key(key)).Err()
}

func NewCache(namespace string, redisCl ClientSource) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}
