package pictures

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/wsrpc/broker"
	"github.com/ggoodman/wsrpc/internal/jsonrpc"
	"github.com/ggoodman/wsrpc/server"
	"github.com/ggoodman/wsrpc/storage"
)

const (
	stateNamespace = "pictures"
	stateKey       = "selector"
)

// DefaultIdleTTL is how long a session stays interested after its last
// request.
const DefaultIdleTTL = 5 * time.Minute

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIdleTTL sets how long a session stays interested after its last
// request. Zero keeps a session only while one of its updates is in flight.
func WithIdleTTL(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d >= 0 {
			s.idleTTL = d
		}
	}
}

// Service owns the selector state and serves the pictures methods.
type Service struct {
	catalog *Catalog
	store   storage.Storage
	broker  broker.Broker
	log     *slog.Logger
	idleTTL time.Duration
	router  *server.Router

	// mu serializes read-modify-write cycles of the selection.
	mu sync.Mutex
}

// NewService wires a Service. The broker may be nil, in which case changes
// are not pushed.
func NewService(catalog *Catalog, store storage.Storage, b broker.Broker, opts ...ServiceOption) *Service {
	s := &Service{
		catalog: catalog,
		store:   store,
		broker:  b,
		log:     slog.Default(),
		idleTTL: DefaultIdleTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.newRouter()
	return s
}

func (s *Service) newRouter() *server.Router {
	r := server.NewRouter()
	server.Register(r, MethodGetSelector, "Return the picture selector", func(ctx context.Context, _ struct{}) (DropDownData, error) {
		return s.GetSelector(ctx)
	})
	server.Register(r, MethodUpdatePicture, "Advance to the next picture", func(ctx context.Context, _ struct{}) (DropDownData, error) {
		return s.UpdatePicture(ctx)
	})
	server.Register(r, MethodSelect, "Select the picture at index", func(ctx context.Context, p SelectParams) (DropDownData, error) {
		return s.Select(ctx, p.Index)
	})
	return r
}

// Router exposes the method registry, including rpc.discover.
func (s *Service) Router() *server.Router { return s.router }

// NewSession is a server.SessionFactory.
func (s *Service) NewSession(ctx context.Context, connID string) server.Session {
	return newSession(s, connID)
}

// GetSelector returns the current selector state.
func (s *Service) GetSelector(ctx context.Context) (DropDownData, error) {
	idx, err := s.loadIndex(ctx)
	if err != nil {
		return DropDownData{}, err
	}
	return s.render(idx), nil
}

// UpdatePicture advances the selection by one, wrapping around, and
// publishes the new state.
func (s *Service) UpdatePicture(ctx context.Context) (DropDownData, error) {
	return s.mutate(ctx, func(idx, n int) (int, error) {
		if n == 0 {
			return 0, nil
		}
		return (idx + 1) % n, nil
	})
}

// Select sets the selection and publishes the new state.
func (s *Service) Select(ctx context.Context, index int) (DropDownData, error) {
	return s.mutate(ctx, func(_, n int) (int, error) {
		if index < 0 || index >= n {
			return 0, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams,
				fmt.Sprintf("index %d out of range [0,%d)", index, n), nil)
		}
		return index, nil
	})
}

// Publish pushes the current state to every connection.
func (s *Service) Publish(ctx context.Context) error {
	data, err := s.GetSelector(ctx)
	if err != nil {
		return err
	}
	return s.publish(ctx, data)
}

// Watch reloads the catalog on asset changes and republishes the selector.
func (s *Service) Watch(ctx context.Context) error {
	return s.catalog.Watch(ctx, s.log, func() {
		if err := s.Publish(ctx); err != nil {
			s.log.Error("pictures.publish.fail", slog.String("err", err.Error()))
		}
	})
}

func (s *Service) mutate(ctx context.Context, next func(idx, n int) (int, error)) (DropDownData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.loadIndex(ctx)
	if err != nil {
		return DropDownData{}, err
	}
	newIdx, err := next(idx, s.catalog.Len())
	if err != nil {
		return DropDownData{}, err
	}
	if err := s.saveIndex(ctx, newIdx); err != nil {
		return DropDownData{}, err
	}

	data := s.render(newIdx)
	if err := s.publish(ctx, data); err != nil {
		// The state change stands; only the push failed.
		s.log.ErrorContext(ctx, "pictures.publish.fail", slog.String("err", err.Error()))
	}
	s.log.InfoContext(ctx, "pictures.selection.changed", slog.Int("selected_index", newIdx))
	return data, nil
}

func (s *Service) render(idx int) DropDownData {
	opts := s.catalog.Options()
	if idx >= len(opts) {
		idx = 0
	}
	return DropDownData{
		Options:       opts,
		SelectedIndex: idx,
		Disabled:      len(opts) == 0,
	}
}

func (s *Service) publish(ctx context.Context, data DropDownData) error {
	if s.broker == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal selector: %w", err)
	}
	if _, err := s.broker.Publish(ctx, TopicSelector, b); err != nil {
		return fmt.Errorf("failed to publish selector: %w", err)
	}
	return nil
}

func (s *Service) loadIndex(ctx context.Context) (int, error) {
	item, err := s.store.Get(ctx, stateKey, storage.WithNamespace(stateNamespace))
	if err != nil {
		return 0, fmt.Errorf("failed to load selector state: %w", err)
	}
	if item == nil {
		return 0, nil
	}
	var st selectorState
	if err := json.Unmarshal(item.Data, &st); err != nil {
		return 0, fmt.Errorf("failed to decode selector state: %w", err)
	}
	return st.SelectedIndex, nil
}

func (s *Service) saveIndex(ctx context.Context, idx int) error {
	b, err := json.Marshal(selectorState{SelectedIndex: idx})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, stateKey, b, storage.WithNamespace(stateNamespace)); err != nil {
		return fmt.Errorf("failed to save selector state: %w", err)
	}
	return nil
}
