package server

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/ggoodman/wsrpc/broker"
	"golang.org/x/time/rate"
)

// DefaultPruneInterval is how often Run sweeps for uninterested processors.
const DefaultPruneInterval = 30 * time.Second

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBroker sets the event bus whose messages are pushed to every connection
// as Notifications.
func WithBroker(b broker.Broker) Option {
	return func(s *Supervisor) {
		s.broker = b
	}
}

// WithPruneInterval sets the period of Run's sweep. Non-positive values
// disable the sweep.
func WithPruneInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		s.pruneInterval = d
	}
}

// WithRateLimit limits each connection to limit Requests per second with the
// given burst. Requests over budget receive an error Response.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Supervisor) {
		s.rateLimit = limit
		s.rateBurst = burst
	}
}

// HandlerOption customizes the HTTP handler returned by Handler.
type HandlerOption func(*handler)

// WithAcceptOptions passes options to the WebSocket upgrade.
func WithAcceptOptions(o *websocket.AcceptOptions) HandlerOption {
	return func(h *handler) {
		h.acceptOpts = o
	}
}

// WithHandlerLogger overrides the handler's logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *handler) {
		if l != nil {
			h.log = l
		}
	}
}
