package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/wsrpc/broker/memory"
	"github.com/ggoodman/wsrpc/internal/jsonrpc"
	"github.com/ggoodman/wsrpc/transport"
	"github.com/ggoodman/wsrpc/transport/transporttest"
	"golang.org/x/time/rate"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSession struct {
	interested atomic.Bool
	d          Dispatcher
}

func newStubSession(d Dispatcher) *stubSession {
	s := &stubSession{d: d}
	s.interested.Store(true)
	return s
}

func (s *stubSession) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	if s.d == nil {
		return nil, methodNotFound(method)
	}
	return s.d.Dispatch(ctx, method, params)
}

func (s *stubSession) Interested() bool { return s.interested.Load() }

type echoParams struct {
	Text string `json:"text"`
}

func testRouter() *Router {
	r := NewRouter()
	Register(r, "echo", "Echo the params back", func(ctx context.Context, p echoParams) (echoParams, error) {
		return p, nil
	})
	Register(r, "fail", "Always fails", func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("disk on fire")
	})
	Register(r, "teapot", "Fails with a custom code", func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, jsonrpc.NewError(418, "teapot", nil)
	})
	return r
}

func call(t *testing.T, conn transport.Conn, id int64, method string, params any) *jsonrpc.Envelope {
	t.Helper()
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	b, _ := jsonrpc.Encode(req)
	if err := conn.Write(context.Background(), b); err != nil {
		t.Fatalf("write: %v", err)
	}
	return readEnvelope(t, conn)
}

func readEnvelope(t *testing.T, conn transport.Conn) *jsonrpc.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := jsonrpc.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

// serve accepts a pipe connection on sup and returns the client end.
func serve(t *testing.T, sup *Supervisor) transport.Conn {
	t.Helper()
	local, remote := transporttest.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Accept(ctx, remote)
	}()
	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		<-done
	})
	return local
}

func TestSupervisor_AttachPrunesUninterested(t *testing.T) {
	t.Parallel()

	sessions := map[string]*stubSession{}
	sup := NewSupervisor(func(ctx context.Context, id string) Session {
		s := newStubSession(nil)
		sessions[id] = s
		return s
	}, WithLogger(quietLogger()))

	_, c1 := transporttest.Pipe()
	_, c2 := transporttest.Pipe()
	_, c3 := transporttest.Pipe()

	p1 := sup.Attach(context.Background(), c1)
	p2 := sup.Attach(context.Background(), c2)
	if sup.Len() != 2 {
		t.Fatalf("expected 2 active processors, got %d", sup.Len())
	}

	sessions[p1.ID()].interested.Store(false)
	p3 := sup.Attach(context.Background(), c3)

	active := sup.Active()
	if len(active) != 2 || active[0] != p2 || active[1] != p3 {
		t.Fatalf("expected active set {p2, p3}, got %d processors", len(active))
	}
	select {
	case <-p1.Done():
		t.Fatalf("pruned processor must keep its connection open")
	default:
	}
	if sup.Open() != 3 {
		t.Fatalf("expected 3 open connections, got %d", sup.Open())
	}
}

func TestSupervisor_DetachIsIdentityBased(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(NewRouter()), WithLogger(quietLogger()))
	_, c1 := transporttest.Pipe()
	_, c2 := transporttest.Pipe()
	p1 := sup.Attach(context.Background(), c1)
	p2 := sup.Attach(context.Background(), c2)

	if !sup.Detach(p1) {
		t.Fatalf("expected p1 to be detached")
	}
	if sup.Detach(p1) {
		t.Fatalf("second detach must be a no-op")
	}
	if active := sup.Active(); len(active) != 1 || active[0] != p2 {
		t.Fatalf("expected only p2 to remain")
	}
}

func TestSupervisor_RemovesProcessorOnClose(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()))
	conn := serve(t, sup)

	waitFor(t, func() bool { return sup.Len() == 1 })
	_ = conn.Close()
	waitFor(t, func() bool { return sup.Len() == 0 })
}

func TestSupervisor_RunPrunesPeriodically(t *testing.T) {
	t.Parallel()

	var sess *stubSession
	sup := NewSupervisor(func(context.Context, string) Session {
		sess = newStubSession(nil)
		return sess
	}, WithLogger(quietLogger()), WithPruneInterval(10*time.Millisecond))

	_, c := transporttest.Pipe()
	p := sup.Attach(context.Background(), c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sup.Run(ctx)
	}()

	sess.interested.Store(false)
	waitFor(t, func() bool { return sup.Len() == 0 })
	select {
	case <-p.Done():
		t.Fatalf("periodic prune must not close the connection")
	default:
	}

	cancel()
	<-done
	select {
	case <-p.Done():
	default:
		t.Fatalf("stopping the supervisor should close pruned connections")
	}
}

func TestSupervisor_PrunedConnectionStillReceivesNotifications(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()

	var mu sync.Mutex
	var sessions []*stubSession
	sup := NewSupervisor(func(context.Context, string) Session {
		s := newStubSession(testRouter())
		mu.Lock()
		sessions = append(sessions, s)
		mu.Unlock()
		return s
	}, WithLogger(quietLogger()), WithBroker(b))

	watcher := serve(t, sup)
	waitFor(t, func() bool { return b.Subscribers() == 1 })

	mu.Lock()
	sessions[0].interested.Store(false)
	mu.Unlock()

	serve(t, sup)
	waitFor(t, func() bool { return b.Subscribers() == 2 })
	if sup.Len() != 1 || sup.Open() != 2 {
		t.Fatalf("expected 1 active of 2 open, got %d of %d", sup.Len(), sup.Open())
	}

	if _, err := b.Publish(context.Background(), "selection-changed", []byte(`{"index":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	env := readEnvelope(t, watcher)
	if env.Kind() != jsonrpc.KindNotification || env.Method != "selection-changed" || string(env.Result) != `{"index":2}` {
		t.Fatalf("unexpected frame on pruned connection: %s %s %s", env.Kind(), env.Method, env.Result)
	}
}

func TestSupervisor_UninterestedSessionKeepsServingRequests(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(func(context.Context, string) Session {
		s := newStubSession(testRouter())
		s.interested.Store(false)
		return s
	}, WithLogger(quietLogger()))
	conn := serve(t, sup)

	if resp := call(t, conn, 0, "echo", echoParams{Text: "a"}); resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	waitFor(t, func() bool { return sup.Len() == 0 })

	resp := call(t, conn, 1, "echo", echoParams{Text: "b"})
	if resp.ID.Int64() != 1 || string(resp.Result) != `{"text":"b"}` {
		t.Fatalf("expected the connection to keep serving, got %+v", resp)
	}
	if sup.Open() != 1 {
		t.Fatalf("expected the connection to stay open, got %d", sup.Open())
	}
}

func TestSupervisor_CloseReachesPrunedConnections(t *testing.T) {
	t.Parallel()

	var sess *stubSession
	sup := NewSupervisor(func(context.Context, string) Session {
		sess = newStubSession(nil)
		return sess
	}, WithLogger(quietLogger()))

	_, c := transporttest.Pipe()
	p := sup.Attach(context.Background(), c)
	sess.interested.Store(false)
	if n := sup.Prune(); n != 1 {
		t.Fatalf("expected 1 pruned processor, got %d", n)
	}

	sup.Close()
	select {
	case <-p.Done():
	default:
		t.Fatalf("Close should close pruned connections")
	}
	if sup.Open() != 0 {
		t.Fatalf("expected no open connections after Close, got %d", sup.Open())
	}
}

func TestProcessor_RespondsWithOriginatingID(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()))
	conn := serve(t, sup)

	resp := call(t, conn, 7, "echo", echoParams{Text: "hi"})
	if resp.Kind() != jsonrpc.KindResponse || resp.ID.Int64() != 7 {
		t.Fatalf("expected response to id 7, got %s %s", resp.Kind(), resp.ID)
	}
	if resp.Method != "echo" {
		t.Fatalf("expected method to be echoed, got %q", resp.Method)
	}
	if string(resp.Result) != `{"text":"hi"}` {
		t.Fatalf("unexpected result %s", resp.Result)
	}
}

func TestProcessor_DispatchFailuresBecomeErrorResponses(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()))
	conn := serve(t, sup)

	tests := []struct {
		method string
		params any
		code   jsonrpc.ErrorCode
	}{
		{"missing", nil, jsonrpc.ErrorCodeMethodNotFound},
		{"echo", map[string]any{"nope": 1}, jsonrpc.ErrorCodeInvalidParams},
		{"fail", nil, jsonrpc.ErrorCodeInternalError},
		{"teapot", nil, 418},
	}
	for i, tt := range tests {
		resp := call(t, conn, int64(i), tt.method, tt.params)
		if resp.ID.Int64() != int64(i) {
			t.Fatalf("%s: expected id %d, got %s", tt.method, i, resp.ID)
		}
		if resp.Error == nil || resp.Error.Code != tt.code {
			t.Fatalf("%s: expected error code %d, got %+v", tt.method, tt.code, resp.Error)
		}
	}
}

func TestProcessor_RateLimit(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()), WithRateLimit(rate.Every(time.Hour), 1))
	conn := serve(t, sup)

	if resp := call(t, conn, 0, "echo", echoParams{Text: "a"}); resp.Error != nil {
		t.Fatalf("first request should pass, got %+v", resp.Error)
	}
	resp := call(t, conn, 1, "echo", echoParams{Text: "b"})
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeRateLimited {
		t.Fatalf("expected rate limited error, got %+v", resp.Error)
	}
}

func TestProcessor_IgnoresMalformedFramesAndNotifications(t *testing.T) {
	t.Parallel()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()))
	conn := serve(t, sup)

	_ = conn.Write(context.Background(), []byte(`garbage`))
	_ = conn.Write(context.Background(), []byte(`{"jsonrpc":"2.0","method":"client-note","result":1}`))

	resp := call(t, conn, 3, "echo", echoParams{Text: "still here"})
	if resp.ID.Int64() != 3 || resp.Error != nil {
		t.Fatalf("expected a normal response, got %+v", resp)
	}
}

func TestProcessor_PushesBrokerEvents(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()), WithBroker(b))
	c1 := serve(t, sup)
	c2 := serve(t, sup)
	waitFor(t, func() bool { return b.Subscribers() == 2 })

	if _, err := b.Publish(context.Background(), "pictures:getSelector", []byte(`{"selectedIndex":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, conn := range []transport.Conn{c1, c2} {
		env := readEnvelope(t, conn)
		if env.Kind() != jsonrpc.KindNotification {
			t.Fatalf("expected notification, got %s", env.Kind())
		}
		if env.Method != "pictures:getSelector" || string(env.Result) != `{"selectedIndex":2}` {
			t.Fatalf("unexpected notification %s %s", env.Method, env.Result)
		}
	}
}

func TestProcessor_CloseEndsPushSubscription(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()

	sup := NewSupervisor(StaticSession(testRouter()), WithLogger(quietLogger()), WithBroker(b))
	conn := serve(t, sup)
	waitFor(t, func() bool { return b.Subscribers() == 1 })

	_ = conn.Close()
	waitFor(t, func() bool { return b.Subscribers() == 0 })
}

func TestRouter_Discover(t *testing.T) {
	t.Parallel()

	r := testRouter()
	v, err := r.Dispatch(context.Background(), DiscoverMethod, nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	res, ok := v.(DiscoverResult)
	if !ok {
		t.Fatalf("unexpected result type %T", v)
	}
	var names []string
	for _, m := range res.Methods {
		names = append(names, m.Name)
	}
	if got := strings.Join(names, ","); got != "echo,fail,rpc.discover,teapot" {
		t.Fatalf("unexpected methods %s", got)
	}

	echo := res.Methods[0]
	if echo.Params == nil || echo.Params.Properties == nil {
		t.Fatalf("expected params schema for echo")
	}
	if _, ok := echo.Params.Properties.Get("text"); !ok {
		t.Fatalf("expected text property in echo params schema")
	}
	if _, err := json.Marshal(res); err != nil {
		t.Fatalf("discover result must marshal: %v", err)
	}
}

func TestRouter_RegisterUnnamedAndScalarTypes(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	Register(r, "ping", "No params", func(ctx context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	})
	Register(r, "upper", "Scalar params and result", func(ctx context.Context, s string) (string, error) {
		return strings.ToUpper(s), nil
	})

	if _, err := r.Dispatch(context.Background(), "ping", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	v, err := r.Dispatch(context.Background(), "upper", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("upper: %v", err)
	}
	if v != "HI" {
		t.Fatalf("unexpected result %v", v)
	}

	for _, m := range r.Methods() {
		if m.Name == DiscoverMethod {
			continue
		}
		if m.Params == nil || m.Result == nil {
			t.Fatalf("%s: expected params and result schemas", m.Name)
		}
	}
	for _, m := range r.Methods() {
		if m.Name == "upper" && m.Params.Type != "string" {
			t.Fatalf("expected string params schema, got %q", m.Params.Type)
		}
	}
}

func TestRouter_UnknownMethod(t *testing.T) {
	t.Parallel()

	_, err := NewRouter().Dispatch(context.Background(), "nope", nil)
	if !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}
