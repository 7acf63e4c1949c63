// Package cache holds read-through caching for public catalog reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/movie-catalog/services/catalog/internal/metrics"
)

type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	return &RedisCache{Client: client, TTL: ttl}, nil
}

// Get decodes the value at key into dest and reports whether it was present.
func (c *RedisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
			return false, nil
		}
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
		return false, err
	}
	metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, key, b, c.TTL).Err()
}

// Purge deletes every key starting with prefix and returns how many were removed.
func (c *RedisCache) Purge(ctx context.Context, prefix string) (int, error) {
	var removed int
	iter := c.Client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.Client.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}
