package database

import (
	"context"
	"fmt"
	"time"

	"factnews/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client used as the shared fast cache tier.
// A nil underlying client means the tier is disabled; every helper is safe
// to call in that state.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a Redis client, or a disabled wrapper when no address
// is configured. Loss of this tier degrades latency, never correctness.
func NewRedis(cfg config.RedisConfig) *RedisClient {
	if !cfg.Enabled() {
		return &RedisClient{}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	return &RedisClient{Client: rdb}
}

// NewRedisFromClient wraps an existing client. Used by tests with
// miniredis and redismock.
func NewRedisFromClient(c *redis.Client) *RedisClient {
	return &RedisClient{Client: c}
}

// Available reports whether the fast tier is configured.
func (c *RedisClient) Available() bool {
	return c != nil && c.Client != nil
}

// Ping tests the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	if !c.Available() {
		return fmt.Errorf("redis not configured")
	}
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	if c.Available() {
		return c.Client.Close()
	}
	return nil
}

// GetBytes retrieves a binary value by key. Returns (nil, nil) on miss.
func (c *RedisClient) GetBytes(ctx context.Context, key string) ([]byte, error) {
	if !c.Available() {
		return nil, nil
	}
	data, err := c.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}

// SetBytes stores a binary value with expiration.
func (c *RedisClient) SetBytes(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if !c.Available() {
		return nil
	}
	return c.Client.Set(ctx, key, value, expiration).Err()
}

// MGetBytes fetches many binary values at once. Missing keys yield nil
// entries at the matching positions.
func (c *RedisClient) MGetBytes(ctx context.Context, keys ...string) ([][]byte, error) {
	if !c.Available() || len(keys) == 0 {
		return make([][]byte, len(keys)), nil
	}
	vals, err := c.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			out[i] = []byte(t)
		case []byte:
			out[i] = t
		}
	}
	return out, nil
}

// PipelineSetBytes stores many binary values with one round-trip.
func (c *RedisClient) PipelineSetBytes(ctx context.Context, values map[string][]byte, expiration time.Duration) error {
	if !c.Available() || len(values) == 0 {
		return nil
	}
	pipe := c.Client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, k, v, expiration)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Del deletes one or more keys.
func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	if !c.Available() {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// DelPattern removes every key matching pattern via SCAN. Used for
// cache invalidation after a corpus refresh, never on a hot path.
func (c *RedisClient) DelPattern(ctx context.Context, pattern string) (int, error) {
	if !c.Available() {
		return 0, nil
	}
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.Client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := c.Client.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// CountKeys returns the number of keys matching pattern. Used only by
// stats reporting, never on a hot path.
func (c *RedisClient) CountKeys(ctx context.Context, pattern string) (int, error) {
	if !c.Available() {
		return 0, nil
	}
	var cursor uint64
	count := 0
	for {
		keys, next, err := c.Client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return count, err
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}
