package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds the size of a single inbound frame.
const DefaultReadLimit int64 = 1 << 20

type wsConn struct {
	c      *websocket.Conn
	remote string

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn adapts an established WebSocket to Conn.
func NewWebSocketConn(c *websocket.Conn, remote string) Conn {
	c.SetReadLimit(DefaultReadLimit)
	return &wsConn{c: c, remote: remote}
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil, io.EOF
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			// Envelopes are JSON text frames; binary frames are skipped.
			continue
		}
		return data, nil
	}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		if websocket.CloseStatus(err) != -1 || errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return err
	}
	return nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.c.Close(websocket.StatusNormalClosure, "")
	})
	return w.closeErr
}

func (w *wsConn) RemoteAddr() string { return w.remote }

// WebSocketDialer returns a DialFunc connecting to url.
func WebSocketDialer(url string, opts *websocket.DialOptions) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		c, resp, err := websocket.Dial(ctx, url, opts)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return NewWebSocketConn(c, url), nil
	}
}

// AcceptWebSocket upgrades an HTTP request to a Conn.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (Conn, error) {
	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	return NewWebSocketConn(c, r.RemoteAddr), nil
}
