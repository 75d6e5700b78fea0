// Package transporttest provides in-memory transport.Conn implementations for
// tests.
package transporttest

import (
	"context"
	"io"
	"sync"

	"github.com/ggoodman/wsrpc/transport"
)

// Pipe returns two connected ends. Frames written on one end are read on the
// other in order. Closing either end closes both.
func Pipe() (transport.Conn, transport.Conn) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	st := &pipeState{done: make(chan struct{})}
	return &pipeConn{in: ba, out: ab, st: st, name: "pipe-a"},
		&pipeConn{in: ab, out: ba, st: st, name: "pipe-b"}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	st   *pipeState
	name string
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	// Drain frames already in flight before reporting EOF.
	select {
	case b := <-p.in:
		return b, nil
	default:
	}
	select {
	case b := <-p.in:
		return b, nil
	case <-p.st.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.st.done:
		return transport.ErrClosed
	default:
	}
	b := append([]byte(nil), data...)
	select {
	case p.out <- b:
		return nil
	case <-p.st.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.st.once.Do(func() { close(p.st.done) })
	return nil
}

func (p *pipeConn) RemoteAddr() string { return p.name }

// Dialer returns a transport.DialFunc that hands out conn once the gate
// channel is closed, or fails with err if err is non-nil. A nil gate dials
// immediately.
func Dialer(conn transport.Conn, gate <-chan struct{}, err error) transport.DialFunc {
	return func(ctx context.Context) (transport.Conn, error) {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
