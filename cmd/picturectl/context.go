package main

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wsrpc/client"
	"github.com/ggoodman/wsrpc/pictures"
	"github.com/ggoodman/wsrpc/transport"
)

type commandContext struct {
	url     string
	timeout time.Duration
	jsonOut bool

	// dial overrides the WebSocket dialer in tests.
	dial transport.DialFunc

	once   sync.Once
	client *client.Client
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) conn() *client.Client {
	c.once.Do(func() {
		opts := []client.Option{client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
		if c.dial != nil {
			c.client = client.New(c.dial, opts...)
			return
		}
		c.client = client.Dial(c.url, opts...)
	})
	return c.client
}

func (c *commandContext) selector() *pictures.Selector {
	return pictures.NewSelector(c.conn())
}

func (c *commandContext) close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
