package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tillpoint/backend/internal/domain"
)

type RedisItemCache struct {
	client *redis.Client
}

func NewRedisItemCache(addr string, password string, db int) *RedisItemCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisItemCache{client: client}
}

func (c *RedisItemCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisItemCache) Close() error {
	return c.client.Close()
}

func (c *RedisItemCache) Get(ctx context.Context, key string) (*domain.Item, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.Item
	if err := json.Unmarshal([]byte(val), &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisItemCache) Set(ctx context.Context, key string, value *domain.Item, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisItemCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
