// Package memory provides an in-memory implementation of the broker.Broker
// interface using Go channels for delivery. State is local to the process, so
// it is suitable for single-node deployments and tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/wsrpc/broker"
)

const defaultBufferSize = 100

// Broker implements broker.Broker with a subscriber set and buffered channels.
type Broker struct {
	mu           sync.RWMutex
	subscribers  map[*subscription]struct{}
	closed       bool
	eventCounter atomic.Int64
	dropped      atomic.Int64
	bufferSize   int
}

type subscription struct {
	ch chan broker.MessageEnvelope
}

// New creates a new memory-based broker instance.
func New() *Broker {
	return &Broker{
		subscribers: make(map[*subscription]struct{}),
		bufferSize:  defaultBufferSize,
	}
}

// Publish implements broker.Broker.Publish
func (b *Broker) Publish(ctx context.Context, topic string, data []byte) (string, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	envelope := broker.MessageEnvelope{
		ID:    strconv.FormatInt(b.eventCounter.Add(1), 10),
		Topic: topic,
		Data:  append([]byte(nil), data...),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return "", broker.ErrClosed
	}

	for sub := range b.subscribers {
		select {
		case sub.ch <- envelope:
		default:
			// Subscriber is backed up; skip rather than stall the publisher.
			b.dropped.Add(1)
		}
	}

	return envelope.ID, nil
}

// Subscribe implements broker.Broker.Subscribe
func (b *Broker) Subscribe(ctx context.Context, handler broker.MessageHandler) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sub := &subscription{ch: make(chan broker.MessageEnvelope, b.bufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return broker.ErrClosed
	}
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	defer b.unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.ch:
			if !ok {
				return broker.ErrClosed
			}
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
	}
}

// Subscribers reports the number of active subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped reports deliveries skipped because a subscriber was backed up.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// Close implements broker.Broker.Close
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[*subscription]struct{})
	return nil
}

func (b *Broker) unsubscribe(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Close already closed the channel and reset the set.
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
	}
}

// Compile-time interface check
var _ broker.Broker = (*Broker)(nil)
