package topics

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber backlog kept before values are
// dropped for a slow consumer.
const DefaultBufferSize = 64

// Channel is the multicast fan-out point for a single topic.
type Channel struct {
	topic      string
	bufferSize int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	dropped atomic.Int64
}

func newChannel(topic string, bufferSize int) *Channel {
	return &Channel{
		topic:      topic,
		bufferSize: bufferSize,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Topic returns the topic name.
func (c *Channel) Topic() string { return c.topic }

// Subscribe attaches a new subscriber that will observe future publishes.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan json.RawMessage, c.bufferSize), parent: c}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		sub.shutdown()
		return sub
	}
	c.subs[sub] = struct{}{}
	return sub
}

// Publish hands v to every attached subscriber without blocking and returns
// how many received it. Subscribers with a full backlog miss the value.
func (c *Channel) Publish(v json.RawMessage) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0
	}

	delivered := 0
	for sub := range c.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			c.dropped.Add(1)
		}
	}
	return delivered
}

// Len reports the number of attached subscribers.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (c *Channel) Dropped() int64 { return c.dropped.Load() }

func (c *Channel) detach(sub *Subscription) {
	c.mu.Lock()
	delete(c.subs, sub)
	c.mu.Unlock()
}

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		sub.shutdown()
	}
	c.subs = make(map[*Subscription]struct{})
}

// Subscription is one consumer's view of a topic.
type Subscription struct {
	ch     chan json.RawMessage
	parent *Channel
	once   sync.Once
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.parent.topic }

// C returns the delivery channel. It is closed when the subscription or its
// broadcaster is closed.
func (s *Subscription) C() <-chan json.RawMessage { return s.ch }

// Next blocks until the next value arrives. It returns io.EOF once the
// subscription is closed and drained.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	select {
	case v, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close detaches this subscriber. Other subscribers of the topic are
// unaffected. Close is idempotent.
func (s *Subscription) Close() error {
	s.parent.detach(s)
	s.shutdown()
	return nil
}

func (s *Subscription) shutdown() {
	s.once.Do(func() { close(s.ch) })
}
