package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mhorvath/guest-notify/internal/model"
)

type RedisProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisProfileCache(rdb *redis.Client, ttl time.Duration) *RedisProfileCache {
	return &RedisProfileCache{rdb: rdb, ttl: ttl}
}

func profileKey(identity model.Identity) string {
	return fmt.Sprintf("profile:%s", identity)
}

// Get returns (nil, nil) on a cache miss.
func (c *RedisProfileCache) Get(ctx context.Context, identity model.Identity) (*SenderProfile, error) {
	raw, err := c.rdb.Get(ctx, profileKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p SenderProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *RedisProfileCache) Store(ctx context.Context, identity model.Identity, p SenderProfile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, profileKey(identity), b, c.ttl).Err()
}

func (c *RedisProfileCache) Invalidate(ctx context.Context, identity model.Identity) error {
	return c.rdb.Del(ctx, profileKey(identity)).Err()
}
