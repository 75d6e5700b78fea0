package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/wsrpc/internal/jsonrpc"
)

// Call is a pending request. It completes exactly once.
type Call struct {
	ID     int64
	Method string

	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(id int64, method string) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{})}
}

func (c *Call) complete(resp *jsonrpc.Envelope, err error) {
	switch {
	case err != nil:
		c.err = err
	case resp.Error != nil:
		c.err = remoteError(resp)
	default:
		c.result = resp.Result
	}
	close(c.done)
}

// Done is closed once the call completes.
func (c *Call) Done() <-chan struct{} { return c.done }

// Wait blocks until the call completes or ctx is done. Abandoning a call via
// ctx does not remove it; its eventual Response is consumed and discarded.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the call and unmarshals its result into v.
func (c *Call) Decode(ctx context.Context, v any) error {
	raw, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode result of %s: %w", c.Method, err)
	}
	return nil
}
