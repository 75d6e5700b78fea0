// Package memory provides an in-memory implementation of the storage interface
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL support.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/wsrpc/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const cleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.StorageItem]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a new in-memory storage implementation
func New(maxItems int) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}

	// Start background cleanup of expired items
	go s.cleanupExpired()

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	s.mu.RLock()
	item, exists := s.cache.Get(storageKey)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(storageKey)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	storageKey := buildKey(options.Namespace, key)

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}

	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storageKey, item)
	s.mu.Unlock()

	return nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(buildKey(options.Namespace, *options.Key))
		return nil
	}

	prefix := namespacePrefix(options.Namespace)
	// LRU has no prefix iteration; walk the key set.
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return nil
}

// Close stops the cleanup loop and drops all items.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

func namespacePrefix(namespace string) string {
	if namespace == "" {
		return "global:"
	}
	return "ns:" + namespace + ":"
}

func buildKey(namespace, key string) string {
	return namespacePrefix(namespace) + "key:" + key
}

// cleanupExpired periodically removes expired items until Close.
func (s *Storage) cleanupExpired() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, key := range s.cache.Keys() {
			if item, exists := s.cache.Peek(key); exists {
				if item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(key)
				}
			}
		}
		s.mu.Unlock()
	}
}

// Compile-time interface check
var _ storage.Storage = (*Storage)(nil)
