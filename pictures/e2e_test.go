package pictures

import (
	"context"
	"errors"
	"testing"
	"time"

	brokermem "github.com/ggoodman/wsrpc/broker/memory"
	"github.com/ggoodman/wsrpc/client"
	"github.com/ggoodman/wsrpc/server"
	"github.com/ggoodman/wsrpc/transport/transporttest"
)

type harness struct {
	sup    *server.Supervisor
	broker *brokermem.Broker
	svc    *Service
}

func newHarness(t *testing.T, opts ...ServiceOption) *harness {
	t.Helper()
	b := brokermem.New()
	t.Cleanup(func() { _ = b.Close() })
	svc := NewService(NewStaticCatalog("a.png", "b.png", "c.png"), newStore(t), b, append([]ServiceOption{WithLogger(quietLogger())}, opts...)...)
	sup := server.NewSupervisor(svc.NewSession, server.WithBroker(b), server.WithLogger(quietLogger()))
	return &harness{sup: sup, broker: b, svc: svc}
}

func (h *harness) connect(t *testing.T) *client.Client {
	t.Helper()
	local, remote := transporttest.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.sup.Accept(ctx, remote)
	}()
	c := client.New(transporttest.Dialer(local, nil, nil), client.WithLogger(quietLogger()))
	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		<-done
	})
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestEndToEnd_UpdateIsPushedToEveryClient(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	alice := NewSelector(h.connect(t))
	bob := NewSelector(h.connect(t))
	waitFor(t, func() bool { return h.broker.Subscribers() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	initial, bobUpdates, err := bob.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer bobUpdates.Close()
	if initial.SelectedIndex != 0 || len(initial.Options) != 3 {
		t.Fatalf("unexpected initial state %+v", initial)
	}
	aliceUpdates := alice.Updates()
	defer aliceUpdates.Close()

	data, err := alice.UpdatePicture(ctx)
	if err != nil {
		t.Fatalf("UpdatePicture: %v", err)
	}
	if data.SelectedIndex != 1 {
		t.Fatalf("expected index 1, got %d", data.SelectedIndex)
	}

	for name, u := range map[string]*Updates{"alice": aliceUpdates, "bob": bobUpdates} {
		pushed, err := u.Next(ctx)
		if err != nil {
			t.Fatalf("%s Next: %v", name, err)
		}
		if pushed.SelectedIndex != 1 {
			t.Fatalf("%s received index %d", name, pushed.SelectedIndex)
		}
	}
}

func TestEndToEnd_SelectOutOfRange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sel := NewSelector(h.connect(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := sel.Select(ctx, 9)
	var rerr *client.RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *client.RemoteError, got %v", err)
	}
	if rerr.Code != -32602 {
		t.Fatalf("expected invalid params code, got %d", rerr.Code)
	}

	data, err := sel.Select(ctx, 2)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if opt, _ := data.Selected(); opt.Value != "c.png" {
		t.Fatalf("unexpected selection %+v", data)
	}
}

func TestEndToEnd_IdleSessionsArePrunedOnAttach(t *testing.T) {
	t.Parallel()

	h := newHarness(t, WithIdleTTL(50*time.Millisecond))
	idle := NewSelector(h.connect(t))
	waitFor(t, func() bool { return h.sup.Len() == 1 })
	updates := idle.Updates()
	defer updates.Close()

	time.Sleep(100 * time.Millisecond)
	active := NewSelector(h.connect(t))
	waitFor(t, func() bool { return h.broker.Subscribers() == 2 })
	if h.sup.Len() != 1 || h.sup.Open() != 2 {
		t.Fatalf("expected 1 active of 2 open, got %d of %d", h.sup.Len(), h.sup.Open())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := active.UpdatePicture(ctx); err != nil {
		t.Fatalf("UpdatePicture: %v", err)
	}
	pushed, err := updates.Next(ctx)
	if err != nil {
		t.Fatalf("pruned client should still receive pushes: %v", err)
	}
	if pushed.SelectedIndex != 1 {
		t.Fatalf("unexpected pushed index %d", pushed.SelectedIndex)
	}

	data, err := idle.GetSelector(ctx)
	if err != nil {
		t.Fatalf("pruned connection should keep serving calls: %v", err)
	}
	if data.SelectedIndex != 1 {
		t.Fatalf("unexpected selection %+v", data)
	}
}
