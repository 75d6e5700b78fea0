package server

import (
	"errors"
	"fmt"

	"github.com/ggoodman/wsrpc/internal/jsonrpc"
)

var (
	// ErrMethodNotFound is returned by a Session that has no handler for a
	// method. It maps to JSON-RPC code -32601.
	ErrMethodNotFound = errors.New("method not found")
	// ErrInvalidParams is returned when params fail to decode. It maps to
	// JSON-RPC code -32602.
	ErrInvalidParams = errors.New("invalid params")
	// ErrRateLimited is reported when a connection exceeds its dispatch budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrProcessorClosed is returned by writes on a closed Processor.
	ErrProcessorClosed = errors.New("processor closed")
)

// toRPCError maps a dispatch failure onto the error object sent to the client.
func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, ErrMethodNotFound):
		return jsonrpc.NewError(jsonrpc.ErrorCodeMethodNotFound, err.Error(), nil)
	case errors.Is(err, ErrInvalidParams):
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	case errors.Is(err, ErrRateLimited):
		return jsonrpc.NewError(jsonrpc.ErrorCodeRateLimited, err.Error(), nil)
	default:
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
}

func methodNotFound(method string) error {
	return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
}
