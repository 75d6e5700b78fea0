package server

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/ggoodman/wsrpc/transport"
)

type handler struct {
	sup        *Supervisor
	acceptOpts *websocket.AcceptOptions
	log        *slog.Logger
}

// Handler returns an http.Handler that upgrades each request to a WebSocket
// and serves it through sup.
func Handler(sup *Supervisor, opts ...HandlerOption) http.Handler {
	h := &handler{
		sup: sup,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.AcceptWebSocket(w, r, h.acceptOpts)
	if err != nil {
		h.log.InfoContext(r.Context(), "server.accept.fail",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("err", err.Error()),
		)
		return
	}

	if err := h.sup.Accept(r.Context(), conn); err != nil {
		h.log.InfoContext(r.Context(), "server.conn.fail",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("err", err.Error()),
		)
	}
}
