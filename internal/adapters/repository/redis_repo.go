// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"rulekeeper/internal/core/ports"
)

// Ensure RedisRepository implements CacheRepository
var _ ports.CacheRepository = (*RedisRepository)(nil)

// RedisRepository implements the rule query cache on Redis
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository instance
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// Get retrieves a cached value. A missing key is not an error: the
// caller gets (nil, nil) and falls through to a direct load.
func (r *RedisRepository) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()

	if err == redis.Nil {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	return data, nil
}

// Set stores a value with the given TTL
func (r *RedisRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Error("Failed to store cache entry",
			"error", err,
			"key", key,
			"ttl", ttl,
		)
		return fmt.Errorf("cache set: %w", err)
	}

	slog.Debug("Cache entry stored",
		"key", key,
		"bytes", len(value),
		"ttl", ttl,
	)

	return nil
}
