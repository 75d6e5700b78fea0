package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
)

// DiscoverMethod lists the registered methods and their schemas.
const DiscoverMethod = "rpc.discover"

// HandlerFunc handles the raw params of one method.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// MethodDescriptor describes a registered method for discovery.
type MethodDescriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Params      *jsonschema.Schema `json:"params,omitempty"`
	Result      *jsonschema.Schema `json:"result,omitempty"`
}

// DiscoverResult is the result of DiscoverMethod.
type DiscoverResult struct {
	Methods []MethodDescriptor `json:"methods"`
}

type route struct {
	desc    MethodDescriptor
	handler HandlerFunc
}

// Router is a method registry implementing Dispatcher. It answers
// DiscoverMethod itself.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	r := &Router{routes: make(map[string]route)}
	// Schemas are self-referential, so the discovery result is not reflected.
	r.Handle(MethodDescriptor{
		Name:        DiscoverMethod,
		Description: "List the methods served on this connection",
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return DiscoverResult{Methods: r.Methods()}, nil
	})
	return r
}

// Handle registers h for desc.Name, replacing any previous handler.
func (r *Router) Handle(desc MethodDescriptor, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[desc.Name] = route{desc: desc, handler: h}
}

// Methods returns the registered method descriptors sorted by name.
func (r *Router) Methods() []MethodDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MethodDescriptor, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch calls the handler registered for method.
func (r *Router) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	r.mu.RLock()
	rt, ok := r.routes[method]
	r.mu.RUnlock()
	if !ok {
		return nil, methodNotFound(method)
	}
	return rt.handler(ctx, params)
}

// Register adds a typed method to r. Params are decoded strictly into P; the
// schemas of P and R are published through DiscoverMethod.
func Register[P, R any](r *Router, method, description string, fn func(ctx context.Context, params P) (R, error)) {
	desc := MethodDescriptor{
		Name:        method,
		Description: description,
		Params:      reflectSchema[P](),
		Result:      reflectSchema[R](),
	}
	r.Handle(desc, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p P
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	})
}

func decodeParams(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// reflectSchema inlines the schema of T. ExpandedStruct is not used: it only
// works for named structs and panics on struct{} or scalar types.
func reflectSchema[T any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(new(T))
}

var _ Dispatcher = (*Router)(nil)
