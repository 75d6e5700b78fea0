// Package redis provides a Redis Streams based implementation of the
// broker.Broker interface so that several backend nodes share one push-event
// feed.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ggoodman/wsrpc/broker"
	"github.com/redis/go-redis/v9"
)

// Broker is a Redis Streams implementation of broker.Broker. All events live in
// a single capped stream; every subscriber reads it independently.
type Broker struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
	block     time.Duration
	closed    atomic.Bool
}

// Config contains configuration options for the Redis broker.
type Config struct {
	// Client is the Redis client to use. If nil, a default client will be created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all Redis keys used by the broker.
	// Defaults to "wsrpc:broker:" if empty.
	KeyPrefix string
	// MaxLen caps the stream length (approximate trimming). Defaults to 1000.
	MaxLen int64
	// Block is how long a single XREAD waits before re-checking the context.
	// Defaults to one second.
	Block time.Duration
}

// New creates a new Redis-based broker instance.
func New(config Config) *Broker {
	client := config.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "wsrpc:broker:"
	}

	maxLen := config.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}

	block := config.Block
	if block <= 0 {
		block = time.Second
	}

	return &Broker{
		client:    client,
		keyPrefix: keyPrefix,
		maxLen:    maxLen,
		block:     block,
	}
}

// Close closes the Redis connection.
func (b *Broker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.client.Close()
}

// Publish appends the event to the stream. Redis generates the event ID.
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if b.closed.Load() {
		return "", broker.ErrClosed
	}

	streamKey := b.streamKey()
	eventID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"topic": topic,
			"data":  data,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event to stream %s: %w", streamKey, err)
	}

	return eventID, nil
}

// Subscribe reads events appended after the call, in stream order.
func (b *Broker) Subscribe(ctx context.Context, handler broker.MessageHandler) error {
	if b.closed.Load() {
		return broker.ErrClosed
	}

	streamKey := b.streamKey()

	// Anchor at the current tail rather than "$" so that events published
	// between two XREAD calls are not skipped.
	startID := "0-0"
	last, err := b.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read tail of stream %s: %w", streamKey, err)
	}
	if len(last) > 0 {
		startID = last[0].ID
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.closed.Load() {
			return broker.ErrClosed
		}

		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, startID},
			Count:   16,
			Block:   b.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if b.closed.Load() {
				return broker.ErrClosed
			}
			return fmt.Errorf("failed to read from stream %s: %w", streamKey, err)
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				startID = message.ID

				topic, _ := message.Values["topic"].(string)
				data, ok := message.Values["data"].(string)
				if !ok || topic == "" {
					// Skip malformed entries.
					continue
				}

				envelope := broker.MessageEnvelope{
					ID:    message.ID,
					Topic: topic,
					Data:  []byte(data),
				}
				if err := handler(ctx, envelope); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup deletes the event stream.
func (b *Broker) Cleanup(ctx context.Context) error {
	if err := b.client.Del(ctx, b.streamKey()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup stream: %w", err)
	}
	return nil
}

func (b *Broker) streamKey() string {
	return b.keyPrefix + "events"
}

var _ broker.Broker = (*Broker)(nil)
