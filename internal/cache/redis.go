package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkostenko/carnet/internal/apperr"
	"github.com/dkostenko/carnet/internal/user/entity"
)

// RedisCache stores snapshots as JSON under `user:<subject>` with a TTL.
type RedisCache struct {
	client *redis.Client
	loader Loader
	ttl    time.Duration
}

// NewRedisCache wraps an existing redis client. ttl == 0 means DefaultTTL.
func NewRedisCache(client *redis.Client, loader Loader, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, loader: loader, ttl: ttl}
}

func (c *RedisCache) GetOrLoad(ctx context.Context, subject string) (*entity.Snapshot, error) {
	raw, err := c.client.Get(ctx, cacheKey(subject)).Result()
	if err == nil {
		var snap entity.Snapshot
		if uerr := json.Unmarshal([]byte(raw), &snap); uerr == nil {
			return &snap, nil
		}
		// corrupt entry, fall through to reload
	} else if !errors.Is(err, redis.Nil) {
		return nil, apperr.Wrap(apperr.KindDependency, "cache read", err)
	}

	snap, err := c.loader(ctx, subject)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(snap)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "cache encode", err)
	}
	if err := c.client.Set(ctx, cacheKey(subject), buf, c.ttl).Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "cache write", err)
	}
	return snap, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, subject string) error {
	if err := c.client.Del(ctx, cacheKey(subject)).Err(); err != nil {
		return apperr.Wrap(apperr.KindDependency, "cache invalidate", err)
	}
	return nil
}

// Clear drops every user entry. It scans rather than FLUSHDB so an instance
// sharing a redis database does not wipe unrelated keys.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cacheKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return apperr.Wrap(apperr.KindDependency, "cache clear", err)
		}
	}
	if err := iter.Err(); err != nil {
		return apperr.Wrap(apperr.KindDependency, "cache clear", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
