package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/wsrpc/broker"
	"github.com/ggoodman/wsrpc/internal/jsonrpc"
	"github.com/ggoodman/wsrpc/internal/logctx"
	"github.com/ggoodman/wsrpc/transport"
	"golang.org/x/time/rate"
)

// Processor serves one connection.
type Processor struct {
	id      string
	conn    transport.Conn
	session Session
	broker  broker.Broker
	limiter *rate.Limiter
	log     *slog.Logger

	// afterDispatch lets the owner re-evaluate interest after each Request.
	afterDispatch func(*Processor)

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	handled   atomic.Int64
	malformed atomic.Int64
}

func newProcessor(id string, conn transport.Conn, session Session, b broker.Broker, limiter *rate.Limiter, log *slog.Logger) *Processor {
	return &Processor{
		id:      id,
		conn:    conn,
		session: session,
		broker:  b,
		limiter: limiter,
		log:     log,
		done:    make(chan struct{}),
	}
}

// ID returns the connection identity assigned at attach time.
func (p *Processor) ID() string { return p.id }

// RemoteAddr identifies the peer.
func (p *Processor) RemoteAddr() string { return p.conn.RemoteAddr() }

// Session returns the domain session bound to this connection.
func (p *Processor) Session() Session { return p.session }

// Done is closed once the processor has been closed.
func (p *Processor) Done() <-chan struct{} { return p.done }

// Handled reports the number of Requests dispatched.
func (p *Processor) Handled() int64 { return p.handled.Load() }

// Interested reports whether this processor should be retained: its
// connection is still open and its session still cares.
func (p *Processor) Interested() bool {
	if p.closed.Load() {
		return false
	}
	return p.session.Interested()
}

// Close stops the push subscription and closes the connection. It is safe to
// call more than once.
func (p *Processor) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)
		err = p.conn.Close()
		if c, ok := p.session.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Run serves the connection until it closes, the processor is closed or ctx
// is done. It returns nil on a normal close.
func (p *Processor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.Close()

	ctx = logctx.WithConnData(ctx, &logctx.ConnData{
		ConnID:     p.id,
		RemoteAddr: p.conn.RemoteAddr(),
		Role:       "server",
	})

	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if p.broker != nil {
		go p.push(ctx)
	}

	p.log.InfoContext(ctx, "processor.run.start")
	err := p.readLoop(ctx)
	p.log.InfoContext(ctx, "processor.run.stop", slog.Int64("handled", p.handled.Load()))
	return err
}

func (p *Processor) readLoop(ctx context.Context) error {
	for {
		frame, err := p.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || p.closed.Load() || ctx.Err() != nil {
				return nil
			}
			p.log.WarnContext(ctx, "processor.read.fail", slog.String("err", err.Error()))
			return err
		}

		env, err := jsonrpc.Decode(frame)
		if err != nil {
			p.malformed.Add(1)
			p.log.DebugContext(ctx, "processor.frame.malformed", slog.String("err", err.Error()))
			continue
		}
		if env.Kind() != jsonrpc.KindRequest {
			p.log.DebugContext(ctx, "processor.frame.ignored", slog.String("kind", env.Kind().String()))
			continue
		}

		if err := p.dispatch(ctx, env); err != nil {
			if p.closed.Load() {
				return nil
			}
			return err
		}
		if p.afterDispatch != nil {
			p.afterDispatch(p)
		}
	}
}

func (p *Processor) dispatch(ctx context.Context, req *jsonrpc.Envelope) error {
	start := time.Now()
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})
	p.handled.Add(1)

	var (
		result any
		err    error
	)
	if p.limiter != nil && !p.limiter.Allow() {
		err = ErrRateLimited
	} else {
		result, err = p.session.Handle(ctx, req.Method, req.Params)
	}

	var resp *jsonrpc.Envelope
	if err != nil {
		p.log.InfoContext(ctx, "processor.dispatch.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		resp = jsonrpc.NewErrorResponse(req.ID, req.Method, toRPCError(err))
	} else {
		resp, err = jsonrpc.NewResultResponse(req.ID, req.Method, result)
		if err != nil {
			p.log.ErrorContext(ctx, "processor.dispatch.encode_fail", slog.String("err", err.Error()))
			resp = jsonrpc.NewErrorResponse(req.ID, req.Method, toRPCError(err))
		} else {
			p.log.DebugContext(ctx, "processor.dispatch.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		}
	}

	if err := p.write(ctx, resp); err != nil {
		p.log.WarnContext(ctx, "processor.write.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// Notify pushes a Notification for topic on this connection.
func (p *Processor) Notify(ctx context.Context, topic string, data json.RawMessage) error {
	env, err := jsonrpc.NewNotification(topic, data)
	if err != nil {
		return err
	}
	return p.write(ctx, env)
}

func (p *Processor) write(ctx context.Context, env *jsonrpc.Envelope) error {
	if p.closed.Load() {
		return ErrProcessorClosed
	}
	b, err := jsonrpc.Encode(env)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(ctx, b)
}

// push forwards every broker event to this connection until ctx is done or
// a write fails.
func (p *Processor) push(ctx context.Context) {
	err := p.broker.Subscribe(ctx, func(ctx context.Context, msg broker.MessageEnvelope) error {
		if err := p.Notify(ctx, msg.Topic, json.RawMessage(msg.Data)); err != nil {
			return err
		}
		p.log.DebugContext(ctx, "processor.push.ok", slog.String("topic", msg.Topic), slog.String("event_id", msg.ID))
		return nil
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, broker.ErrClosed) || p.closed.Load() {
		return
	}
	p.log.WarnContext(ctx, "processor.push.fail", slog.String("err", err.Error()))
}
