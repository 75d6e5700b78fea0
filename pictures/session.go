package pictures

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ggoodman/wsrpc/server"
)

// Session is the per-connection view of a Service. It stays interested while
// one of its updates is in flight or it was active within the idle TTL.
type Session struct {
	svc    *Service
	connID string

	inflight   atomic.Int32
	lastActive atomic.Int64
	now        func() time.Time
}

func newSession(svc *Service, connID string) *Session {
	s := &Session{svc: svc, connID: connID, now: time.Now}
	s.lastActive.Store(s.now().UnixNano())
	return s
}

// ConnID returns the connection the session belongs to.
func (s *Session) ConnID() string { return s.connID }

// Handle implements server.Session.
func (s *Session) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	s.lastActive.Store(s.now().UnixNano())
	if method == MethodUpdatePicture || method == MethodSelect {
		s.inflight.Add(1)
		defer s.inflight.Add(-1)
	}
	return s.svc.router.Dispatch(ctx, method, params)
}

// Updating reports whether an update issued on this session is in flight.
func (s *Session) Updating() bool { return s.inflight.Load() > 0 }

// Interested implements server.Session.
func (s *Session) Interested() bool {
	if s.Updating() {
		return true
	}
	idle := s.now().Sub(time.Unix(0, s.lastActive.Load()))
	return idle < s.svc.idleTTL
}

var _ server.Session = (*Session)(nil)
