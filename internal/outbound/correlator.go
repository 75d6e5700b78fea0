// Package outbound correlates outgoing calls with the Responses that
// eventually answer them.
package outbound

import (
	"errors"
	"sync"
	"time"

	"github.com/ggoodman/wsrpc/internal/jsonrpc"
)

var (
	// ErrClosed indicates the correlator no longer accepts registrations.
	ErrClosed = errors.New("correlator closed")
	// ErrDuplicateID indicates an id is already pending.
	ErrDuplicateID = errors.New("call id already pending")
)

// Continuation receives the outcome of one pending call. Exactly one of resp
// and err is non-nil.
type Continuation func(resp *jsonrpc.Envelope, err error)

type pendingCall struct {
	fn    Continuation
	timer *time.Timer
}

// Correlator maps call ids to their pending continuations. Every registered
// continuation fires at most once, and only for the id it was registered under.
type Correlator struct {
	mu      sync.Mutex
	pending map[int64]*pendingCall

	closed   bool
	closeErr error
}

// New constructs an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[int64]*pendingCall)}
}

// Register stores fn under id. When timeout is positive the call is failed
// with timeoutErr if no Response arrives in time.
func (c *Correlator) Register(id int64, fn Continuation, timeout time.Duration, timeoutErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		if c.closeErr != nil {
			return c.closeErr
		}
		return ErrClosed
	}
	if _, ok := c.pending[id]; ok {
		return ErrDuplicateID
	}

	pc := &pendingCall{fn: fn}
	if timeout > 0 {
		pc.timer = time.AfterFunc(timeout, func() { c.Fail(id, timeoutErr) })
	}
	c.pending[id] = pc
	return nil
}

// Resolve delivers resp to the continuation registered under its id.
// Unmatched responses are ignored and reported as false.
func (c *Correlator) Resolve(resp *jsonrpc.Envelope) bool {
	if resp == nil || resp.ID == nil {
		return false
	}
	pc := c.take(resp.ID.Int64())
	if pc == nil {
		return false
	}
	pc.fn(resp, nil)
	return true
}

// Fail completes the call registered under id with err.
func (c *Correlator) Fail(id int64, err error) bool {
	pc := c.take(id)
	if pc == nil {
		return false
	}
	pc.fn(nil, err)
	return true
}

// Len reports the number of pending calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close fails all pending calls with err and prevents new registrations.
func (c *Correlator) Close(err error) {
	if err == nil {
		err = ErrClosed
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	calls := make([]*pendingCall, 0, len(c.pending))
	for id, pc := range c.pending {
		delete(c.pending, id)
		if pc.timer != nil {
			pc.timer.Stop()
		}
		calls = append(calls, pc)
	}
	c.mu.Unlock()

	for _, pc := range calls {
		pc.fn(nil, err)
	}
}

func (c *Correlator) take(id int64) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}
