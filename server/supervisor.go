package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wsrpc/broker"
	"github.com/ggoodman/wsrpc/internal/logctx"
	"github.com/ggoodman/wsrpc/transport"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Supervisor tracks the Processors of a backend. The active set holds the
// processors still worth retaining; pruning removes a processor from it but
// leaves its connection open until the connection closes on its own.
type Supervisor struct {
	newSession    SessionFactory
	broker        broker.Broker
	log           *slog.Logger
	pruneInterval time.Duration
	rateLimit     rate.Limit
	rateBurst     int

	mu     sync.Mutex
	active []*Processor
	open   map[*Processor]struct{}
}

// NewSupervisor constructs a Supervisor whose connections get their Session
// from newSession.
func NewSupervisor(newSession SessionFactory, opts ...Option) *Supervisor {
	s := &Supervisor{
		newSession:    newSession,
		log:           slog.Default(),
		pruneInterval: DefaultPruneInterval,
		open:          make(map[*Processor]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = logctx.Wrap(s.log)
	return s
}

// Attach prunes uninterested processors, then registers and returns a new
// Processor for conn. The caller runs it.
func (s *Supervisor) Attach(ctx context.Context, conn transport.Conn) *Processor {
	pruned := s.Prune()

	id := uuid.NewString()
	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
	}
	p := newProcessor(id, conn, s.newSession(ctx, id), s.broker, limiter, s.log)
	p.afterDispatch = s.reevaluate

	s.mu.Lock()
	s.active = append(s.active, p)
	s.open[p] = struct{}{}
	n := len(s.active)
	s.mu.Unlock()

	s.log.InfoContext(ctx, "supervisor.attach",
		slog.String("conn_id", id),
		slog.String("remote_addr", conn.RemoteAddr()),
		slog.Int("pruned", pruned),
		slog.Int("active", n),
	)
	return p
}

// Detach removes p from the active set. It reports whether p was present.
func (s *Supervisor) Detach(p *Processor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeActive(p)
}

func (s *Supervisor) removeActive(p *Processor) bool {
	for i, cur := range s.active {
		if cur == p {
			s.active = append(s.active[:i], s.active[i+1:]...)
			return true
		}
	}
	return false
}

// Accept attaches conn and serves it until it closes.
func (s *Supervisor) Accept(ctx context.Context, conn transport.Conn) error {
	p := s.Attach(ctx, conn)
	defer func() {
		s.mu.Lock()
		wasActive := s.removeActive(p)
		delete(s.open, p)
		s.mu.Unlock()
		s.log.InfoContext(ctx, "supervisor.detach", slog.String("conn_id", p.ID()), slog.Bool("was_active", wasActive))
	}()
	return p.Run(ctx)
}

// Prune removes every processor that is no longer interested from the active
// set and returns how many were removed. Their connections stay open.
func (s *Supervisor) Prune() int {
	s.mu.Lock()
	var stale []*Processor
	kept := s.active[:0]
	for _, p := range s.active {
		if p.Interested() {
			kept = append(kept, p)
		} else {
			stale = append(stale, p)
		}
	}
	// Clear the tail so pruned processors can be collected.
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
	s.mu.Unlock()

	for _, p := range stale {
		s.log.Info("supervisor.prune", slog.String("conn_id", p.ID()))
	}
	return len(stale)
}

// reevaluate drops p as soon as it stops being interested.
func (s *Supervisor) reevaluate(p *Processor) {
	if p.Interested() {
		return
	}
	if s.Detach(p) {
		s.log.Info("supervisor.prune", slog.String("conn_id", p.ID()))
	}
}

// Active returns a snapshot of the active processors in attach order.
func (s *Supervisor) Active() []*Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Processor, len(s.active))
	copy(out, s.active)
	return out
}

// Len reports the number of active processors.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Open reports the number of connections still being served, pruned or not.
func (s *Supervisor) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Run prunes periodically until ctx is done, then closes every connection.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.Close()

	if s.pruneInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.log.InfoContext(ctx, "supervisor.sweep", slog.Int("pruned", n), slog.Int("active", s.Len()))
			}
		}
	}
}

// Close closes every connection, including pruned ones that are still open.
func (s *Supervisor) Close() {
	s.mu.Lock()
	procs := make([]*Processor, 0, len(s.open))
	for p := range s.open {
		procs = append(procs, p)
	}
	s.active = nil
	s.open = make(map[*Processor]struct{})
	s.mu.Unlock()

	for _, p := range procs {
		_ = p.Close()
	}
}
