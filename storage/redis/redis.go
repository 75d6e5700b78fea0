// Package redis provides a Redis-based implementation of the storage.Storage
// interface with TTL support.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/wsrpc/storage"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis storage
type Config struct {
	// Client is the Redis client instance
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all Redis keys
	// Default: "wsrpc:storage:"
	KeyPrefix string
}

// Storage implements the storage.Storage interface using Redis
type Storage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedItem represents the structure stored in Redis
type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// New creates a new Redis-based storage instance.
func New(config Config) (*Storage, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "wsrpc:storage:"
	}

	return &Storage{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Namespace, key)

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", redisKey, err)
	}

	var item storedItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	storageItem := &storage.StorageItem{
		Data:      item.Data,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
	}

	// Redis expires keys lazily; double check against our own timestamp.
	if storageItem.IsExpired() {
		s.client.Del(ctx, redisKey)
		return nil, nil
	}

	return storageItem, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	redisKey := s.buildKey(options.Namespace, key)

	now := time.Now()
	item := storedItem{
		Data:      data,
		CreatedAt: now,
	}

	var redisTTL time.Duration
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
		redisTTL = *options.TTL
	}

	itemData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}

	if err := s.client.Set(ctx, redisKey, itemData, redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", redisKey, err)
	}

	return nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	if options.Key != nil {
		redisKey := s.buildKey(options.Namespace, *options.Key)
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", redisKey, err)
		}
		return nil
	}

	pattern := s.buildKey(options.Namespace, "*")
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}

// Close closes the storage backend and releases resources
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) buildKey(namespace, key string) string {
	if namespace == "" {
		return s.keyPrefix + "global:" + key
	}
	return s.keyPrefix + "ns:" + namespace + ":" + key
}

// scanKeys uses Redis SCAN to find all keys matching a pattern
func (s *Storage) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		scanKeys, newCursor, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, scanKeys...)
		cursor = newCursor

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Compile-time interface check
var _ storage.Storage = (*Storage)(nil)
