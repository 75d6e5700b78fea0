// Package broker distributes backend push events to every connection
// processor. Domain code publishes a (topic, payload) pair once; each
// subscribed processor turns it into a Notification on its own connection.
//
// Implementations
//
//	memory : in-process fan-out for single-node deployments and tests
//	redis  : Redis Streams backed fan-out shared by several backend nodes
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish and Subscribe once the broker is closed.
var ErrClosed = errors.New("broker closed")

// Broker handles fan-out of push events to all current subscribers.
type Broker interface {
	// Publish sends data under topic to every current subscriber and returns
	// the generated event ID. data must be a JSON document.
	Publish(ctx context.Context, topic string, data []byte) (eventID string, err error)

	// Subscribe delivers every event published after the subscription starts
	// to handler, in publish order. It blocks until ctx is done, the broker is
	// closed, or handler returns an error, which is then returned.
	Subscribe(ctx context.Context, handler MessageHandler) error

	// Close releases resources and ends all subscriptions.
	Close() error
}

// MessageHandler processes one event.
type MessageHandler func(ctx context.Context, envelope MessageEnvelope) error

// MessageEnvelope wraps a push event with delivery metadata.
type MessageEnvelope struct {
	// ID is a unique identifier for this event, increasing in publish order.
	ID string `json:"id"`
	// Topic names the notification the event becomes on the wire.
	Topic string `json:"topic"`
	// Data is the JSON payload delivered as the notification result.
	Data []byte `json:"data"`
}
