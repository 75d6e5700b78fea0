package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/wsrpc/internal/jsonrpc"
	"github.com/ggoodman/wsrpc/internal/logctx"
	"github.com/ggoodman/wsrpc/internal/outbound"
	"github.com/ggoodman/wsrpc/topics"
	"github.com/ggoodman/wsrpc/transport"
)

// State is the lifecycle state of a Client's connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Stats is a snapshot of a Client's traffic counters.
type Stats struct {
	Sent      int64
	Resolved  int64
	Orphaned  int64
	Malformed int64
	Unrouted  int64
	Dropped   int64
}

// Client owns one connection to the backend.
type Client struct {
	dial        transport.DialFunc
	log         *slog.Logger
	callTimeout time.Duration
	bufferSize  int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	conn    transport.Conn
	dialErr error

	// ready is closed once the handshake settles, open or failed.
	ready chan struct{}
	// done is closed once teardown completes.
	done chan struct{}

	writeMu      sync.Mutex
	nextID       atomic.Int64
	teardownOnce sync.Once

	pending *outbound.Correlator
	bcast   *topics.Broadcaster

	sent      atomic.Int64
	resolved  atomic.Int64
	orphaned  atomic.Int64
	malformed atomic.Int64
	unrouted  atomic.Int64
}

// New constructs a Client and starts its handshake in the background.
func New(dial transport.DialFunc, opts ...Option) *Client {
	return newClient(dial, buildOptions(opts))
}

// Dial connects to a WebSocket endpoint such as "ws://localhost:3000/".
func Dial(url string, opts ...Option) *Client {
	o := buildOptions(opts)
	return newClient(transport.WebSocketDialer(url, o.dialOpts), o)
}

func newClient(dial transport.DialFunc, o options) *Client {
	c := &Client{
		dial:        dial,
		log:         o.log,
		callTimeout: o.callTimeout,
		bufferSize:  o.bufferSize,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		pending:     outbound.New(),
	}
	c.start()
	return c
}

func (c *Client) start() {
	c.log = logctx.Wrap(c.log)
	c.bcast = topics.NewBroadcaster(
		topics.WithBufferSize(c.bufferSize),
		topics.WithOnCreate(c.registerInterest),
	)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.handshake()
}

func (c *Client) handshake() {
	conn, err := c.dial(c.ctx)
	if err == nil && conn == nil {
		err = errors.New("dialer returned no connection")
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Closed while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		close(c.ready)
		return
	}
	if err != nil {
		c.dialErr = err
		c.state = StateClosed
		c.mu.Unlock()
		close(c.ready)
		c.log.Error("client.handshake.fail", slog.String("err", err.Error()))
		c.teardown()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()
	close(c.ready)

	c.log.Info("client.handshake.ok", slog.String("remote_addr", conn.RemoteAddr()))
	go c.readLoop(conn)
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready is closed once the handshake has either opened the connection or
// failed.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Done is closed once the connection has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send issues a request and returns the pending Call. Nothing is registered
// when Send returns an error.
func (c *Client) Send(ctx context.Context, method string, params any) (*Call, error) {
	switch c.State() {
	case StateClosing, StateClosed:
		return nil, ErrConnectionUnavailable
	}
	if method == "" {
		return nil, ErrInvalidMethod
	}

	conn, err := c.awaitOpen(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1) - 1
	env, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	frame, err := jsonrpc.Encode(env)
	if err != nil {
		return nil, err
	}

	call := newCall(id, method)
	if err := c.pending.Register(id, call.complete, c.callTimeout, ErrCallTimeout); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return nil, ErrConnectionUnavailable
		}
		return nil, err
	}

	if err := c.write(ctx, conn, frame); err != nil {
		c.pending.Fail(id, err)
		c.log.Warn("client.send.fail", slog.String("method", method), slog.Int64("id", id), slog.String("err", err.Error()))
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}
	c.sent.Add(1)
	return call, nil
}

// Call sends a request and waits for its result.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	call, err := c.Send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// awaitOpen returns the open connection, waiting out an in-progress handshake.
func (c *Client) awaitOpen(ctx context.Context) (transport.Conn, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == StateOpen:
		return c.conn, nil
	case c.dialErr != nil:
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, c.dialErr)
	default:
		return nil, ErrHandshakeFailed
	}
}

func (c *Client) write(ctx context.Context, conn transport.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, frame)
}

func (c *Client) readLoop(conn transport.Conn) {
	defer c.teardown()

	for {
		frame, err := conn.Read(c.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.log.Warn("client.read.fail", slog.String("err", err.Error()))
			}
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	env, err := jsonrpc.Decode(frame)
	if err != nil {
		c.malformed.Add(1)
		c.log.Debug("client.frame.malformed", slog.String("err", err.Error()))
		return
	}

	ctx := logctx.WithRPCMessage(c.ctx, &logctx.RPCMessage{
		Method: env.Method,
		ID:     env.ID.String(),
		Type:   env.Kind().String(),
	})

	switch env.Kind() {
	case jsonrpc.KindResponse:
		if c.pending.Resolve(env) {
			c.resolved.Add(1)
			return
		}
		c.orphaned.Add(1)
		c.log.DebugContext(ctx, "client.response.orphaned")
	case jsonrpc.KindNotification:
		if c.bcast.Publish(env.Method, env.Result) == 0 {
			c.unrouted.Add(1)
			c.log.DebugContext(ctx, "client.notification.unrouted")
		}
	default:
		c.malformed.Add(1)
		c.log.DebugContext(ctx, "client.frame.unexpected")
	}
}

// Subscribe attaches a subscriber to topic. The first subscription per topic
// registers upstream interest; later ones share the same channel.
func (c *Client) Subscribe(topic string) *topics.Subscription {
	return c.bcast.Subscribe(topic)
}

func (c *Client) registerInterest(topic string) {
	c.log.Debug("client.topic.register", slog.String("topic", topic))
}

// Topics lists the topics this client has registered interest in, sorted.
func (c *Client) Topics() []string {
	return c.bcast.Topics()
}

// Stats returns a snapshot of the traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:      c.sent.Load(),
		Resolved:  c.resolved.Load(),
		Orphaned:  c.orphaned.Load(),
		Malformed: c.malformed.Load(),
		Unrouted:  c.unrouted.Load(),
		Dropped:   c.bcast.Dropped(),
	}
}

// Pending reports the number of calls awaiting a Response.
func (c *Client) Pending() int { return c.pending.Len() }

// Close tears the connection down. Pending calls fail with
// ErrConnectionClosed and subscriptions end.
func (c *Client) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		<-c.done
		return nil
	case StateConnecting:
		c.state = StateClosed
		c.mu.Unlock()
		c.cancel()
		c.teardown()
		return nil
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	err := conn.Close()
	c.cancel()
	<-c.done
	return err
}

// teardown runs once per client, after which State reports StateClosed.
func (c *Client) teardown() {
	c.teardownOnce.Do(c.doTeardown)
}

func (c *Client) doTeardown() {
	c.mu.Lock()
	c.state = StateClosed
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.cancel()
	c.pending.Close(ErrConnectionClosed)
	c.bcast.Close()
	close(c.done)
	c.log.Info("client.closed")
}
