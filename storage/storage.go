// Package storage provides a small key/value interface for backend state that
// must survive individual connections, such as the current selector state.
// Keys are grouped into namespaces so several domains can share one backend.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the primary interface for namespaced data storage
type Storage interface {
	// Get retrieves data for a specific key within the given namespace
	// Returns nil StorageItem if key doesn't exist or has expired
	// Returns error only for legitimate storage system failures
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes data within the given namespace
	// If no key specified via WithKey, removes entire namespace
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources
	Close() error
}

// StorageItem represents a stored piece of data with metadata
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations
type Option func(*Options)

// Options contains configuration for storage operations
type Options struct {
	Namespace string         // Optional: storage namespace ("" = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply builds Options from opts.
func Apply(opts ...Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

// WithNamespace scopes the operation to namespace.
func WithNamespace(namespace string) Option {
	return func(opts *Options) {
		opts.Namespace = namespace
	}
}

// WithKey specifies a specific key for Delete operations
// If not provided, Delete removes the entire namespace
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// Error types
var (
	// ErrInvalidOptions is returned when incompatible options are provided
	ErrInvalidOptions = errors.New("storage: invalid option combination")
)
