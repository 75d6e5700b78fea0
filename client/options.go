package client

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/ggoodman/wsrpc/topics"
)

// Option customizes a Client.
type Option func(*options)

type options struct {
	log         *slog.Logger
	callTimeout time.Duration
	bufferSize  int
	dialOpts    *websocket.DialOptions
}

func buildOptions(opts []Option) options {
	o := options{
		log:        slog.Default(),
		bufferSize: topics.DefaultBufferSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCallTimeout fails calls that receive no Response within d. Zero, the
// default, waits until the connection is torn down.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.callTimeout = d
		}
	}
}

// WithBufferSize sets the per-subscription backlog before notifications are
// dropped for a slow subscriber.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithDialOptions passes options to the WebSocket dialer used by Dial.
func WithDialOptions(d *websocket.DialOptions) Option {
	return func(o *options) {
		o.dialOpts = d
	}
}
