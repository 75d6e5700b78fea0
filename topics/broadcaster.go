package topics

import (
	"encoding/json"
)

// Broadcaster routes published values to the lazily created Channel of their
// topic.
type Broadcaster struct {
	reg        Registry
	onCreate   func(topic string)
	bufferSize int
}

// Option customizes a Broadcaster.
type Option func(*Broadcaster)

// WithOnCreate registers a hook run exactly once per topic, when its channel
// is first created.
func WithOnCreate(fn func(topic string)) Option {
	return func(b *Broadcaster) {
		b.onCreate = fn
	}
}

// WithRegistry overrides the topic registry.
func WithRegistry(r Registry) Option {
	return func(b *Broadcaster) {
		if r != nil {
			b.reg = r
		}
	}
}

// WithBufferSize sets the per-subscriber backlog for the default registry.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// NewBroadcaster constructs a Broadcaster with defaults and applies options.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.reg == nil {
		b.reg = NewRegistry(b.bufferSize)
	}
	return b
}

// Subscribe attaches a subscriber to topic, creating its channel on first use.
func (b *Broadcaster) Subscribe(topic string) *Subscription {
	ch, created := b.reg.GetOrCreate(topic)
	if created && b.onCreate != nil {
		b.onCreate(topic)
	}
	return ch.Subscribe()
}

// Publish delivers data to the current subscribers of topic and returns how
// many received it. Values for topics nobody subscribed to are dropped.
func (b *Broadcaster) Publish(topic string, data json.RawMessage) int {
	ch, ok := b.reg.Lookup(topic)
	if !ok {
		return 0
	}
	return ch.Publish(data)
}

// Has reports whether a channel exists for topic.
func (b *Broadcaster) Has(topic string) bool {
	_, ok := b.reg.Lookup(topic)
	return ok
}

// Topics lists the topics that have a channel.
func (b *Broadcaster) Topics() []string { return b.reg.Topics() }

// Dropped sums the skipped deliveries across all channels.
func (b *Broadcaster) Dropped() int64 {
	var n int64
	for _, topic := range b.reg.Topics() {
		if ch, ok := b.reg.Lookup(topic); ok {
			n += ch.Dropped()
		}
	}
	return n
}

// Close closes every subscription on every topic.
func (b *Broadcaster) Close() { b.reg.Close() }
