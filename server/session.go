package server

import (
	"context"
	"encoding/json"
)

// Session is the domain state behind one connection.
type Session interface {
	// Handle dispatches one Request. The returned value is marshaled as the
	// Response result; an error becomes an error Response.
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
	// Interested reports whether the connection should be kept alive.
	Interested() bool
}

// SessionFactory creates the Session for a newly attached connection.
type SessionFactory func(ctx context.Context, connID string) Session

// Dispatcher routes a method call. Router implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// StaticSession returns a factory whose sessions dispatch into d and stay
// interested for as long as their connection is open.
func StaticSession(d Dispatcher) SessionFactory {
	return func(context.Context, string) Session {
		return staticSession{d: d}
	}
}

type staticSession struct{ d Dispatcher }

func (s staticSession) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	return s.d.Dispatch(ctx, method, params)
}

func (staticSession) Interested() bool { return true }
