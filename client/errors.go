package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/wsrpc/internal/jsonrpc"
)

var (
	// ErrConnectionUnavailable is returned by Send once the client is closing
	// or closed.
	ErrConnectionUnavailable = errors.New("connection no longer available")
	// ErrInvalidMethod is returned by Send for an empty method name.
	ErrInvalidMethod = errors.New("method is required")
	// ErrHandshakeFailed is returned to calls that waited on a handshake that
	// never reached the open state.
	ErrHandshakeFailed = errors.New("connection handshake failed")
	// ErrConnectionClosed fails every call still pending at teardown.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCallTimeout fails a call that outlived WithCallTimeout.
	ErrCallTimeout = errors.New("call timed out")
)

// RemoteError is the error reported by the backend in an error Response.
type RemoteError struct {
	Method  string
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RemoteError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: remote error %d: %s", e.Method, e.Code, e.Message)
}

// IsMethodNotFound reports whether the backend had no handler for the method.
func (e *RemoteError) IsMethodNotFound() bool {
	return e.Code == int(jsonrpc.ErrorCodeMethodNotFound)
}

func remoteError(env *jsonrpc.Envelope) *RemoteError {
	return &RemoteError{
		Method:  env.Method,
		Code:    int(env.Error.Code),
		Message: env.Error.Message,
		Data:    env.Error.Data,
	}
}
