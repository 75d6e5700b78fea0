package topics

import (
	"sort"
	"sync"
)

// Registry memoizes one Channel per topic name.
type Registry interface {
	// GetOrCreate returns the channel for topic, creating it if needed. The
	// boolean reports whether this call created it.
	GetOrCreate(topic string) (*Channel, bool)
	// Lookup returns the channel for topic without creating one.
	Lookup(topic string) (*Channel, bool)
	// Topics lists the known topic names in sorted order.
	Topics() []string
	// Close closes every channel and forgets them.
	Close()
}

// NewRegistry returns a mutex-protected in-memory Registry.
func NewRegistry(bufferSize int) Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &registry{channels: make(map[string]*Channel), bufferSize: bufferSize}
}

type registry struct {
	mu         sync.Mutex
	channels   map[string]*Channel
	bufferSize int
	closed     bool
}

func (r *registry) GetOrCreate(topic string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[topic]; ok {
		return ch, false
	}
	ch := newChannel(topic, r.bufferSize)
	if r.closed {
		// Hand back a closed channel so subscribers observe EOF immediately.
		ch.close()
		return ch, false
	}
	r.channels[topic] = ch
	return ch, true
}

func (r *registry) Lookup(topic string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[topic]
	return ch, ok
}

func (r *registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.channels))
	for topic := range r.channels {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func (r *registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
}
