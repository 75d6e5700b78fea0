// Package transport abstracts the message-oriented duplex connection that
// carries envelopes between a client and the backend. One Read or Write moves
// exactly one frame.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Write after the connection has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional, frame-oriented connection.
type Conn interface {
	// Read blocks for the next frame. It returns io.EOF when the peer closed
	// the connection normally.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one frame.
	Write(ctx context.Context, data []byte) error
	// Close closes the connection. Subsequent calls are no-ops.
	Close() error
	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// DialFunc establishes a new Conn. It is the handshake step of a client.
type DialFunc func(ctx context.Context) (Conn, error)
