// Package brokertest provides a conformance suite for broker.Broker
// implementations.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/wsrpc/broker"
)

// BrokerFactory is a function that creates a new broker instance for testing.
type BrokerFactory func(t *testing.T) broker.Broker

// settle gives a freshly started subscription time to register.
const settle = 100 * time.Millisecond

// RunBrokerTests runs the complete broker test suite against the provided factory.
func RunBrokerTests(t *testing.T, factory BrokerFactory) {
	t.Run("PublishAndSubscribe", func(t *testing.T) {
		testPublishAndSubscribe(t, factory)
	})
	t.Run("MultipleSubscribersEachReceiveOnce", func(t *testing.T) {
		testMultipleSubscribers(t, factory)
	})
	t.Run("NoReplayForLateSubscriber", func(t *testing.T) {
		testNoReplay(t, factory)
	})
	t.Run("OrderedDelivery", func(t *testing.T) {
		testOrderedDelivery(t, factory)
	})
	t.Run("SubscriptionContextCancellation", func(t *testing.T) {
		testSubscriptionContextCancellation(t, factory)
	})
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) {
		testHandlerErrorStopsSubscription(t, factory)
	})
	t.Run("CloseEndsSubscriptions", func(t *testing.T) {
		testCloseEndsSubscriptions(t, factory)
	})
}

type collector struct {
	mu   sync.Mutex
	got  []broker.MessageEnvelope
	next chan struct{}
}

func newCollector() *collector {
	return &collector{next: make(chan struct{}, 128)}
}

func (c *collector) handle(ctx context.Context, env broker.MessageEnvelope) error {
	c.mu.Lock()
	c.got = append(c.got, env)
	c.mu.Unlock()
	c.next <- struct{}{}
	return nil
}

func (c *collector) wait(t *testing.T, n int) []broker.MessageEnvelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.next:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events (got %d)", n, i)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broker.MessageEnvelope(nil), c.got...)
}

func subscribe(ctx context.Context, b broker.Broker, h broker.MessageHandler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, h) }()
	time.Sleep(settle)
	return done
}

func cleanupBroker(t *testing.T, b broker.Broker) {
	t.Helper()
	if c, ok := b.(interface{ Cleanup(context.Context) error }); ok {
		if err := c.Cleanup(context.Background()); err != nil {
			t.Logf("cleanup: %v", err)
		}
	}
	if err := b.Close(); err != nil {
		t.Logf("close: %v", err)
	}
}

func testPublishAndSubscribe(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := newCollector()
	subscribe(ctx, b, c.handle)

	eventID, err := b.Publish(ctx, "pictures:getSelector", []byte(`{"selectedIndex":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if eventID == "" {
		t.Fatal("Expected non-empty event ID")
	}

	got := c.wait(t, 1)
	if got[0].ID != eventID {
		t.Fatalf("Expected event ID %s, got %s", eventID, got[0].ID)
	}
	if got[0].Topic != "pictures:getSelector" {
		t.Fatalf("Expected topic pictures:getSelector, got %s", got[0].Topic)
	}
	if string(got[0].Data) != `{"selectedIndex":1}` {
		t.Fatalf("Unexpected data %s", got[0].Data)
	}
}

func testMultipleSubscribers(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c1, c2 := newCollector(), newCollector()
	subscribe(ctx, b, c1.handle)
	subscribe(ctx, b, c2.handle)

	if _, err := b.Publish(ctx, "selection-changed", []byte(`{"index":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, c := range []*collector{c1, c2} {
		got := c.wait(t, 1)
		if len(got) != 1 || string(got[0].Data) != `{"index":2}` {
			t.Fatalf("subscriber %d: unexpected events %+v", i, got)
		}
	}

	// Nothing further should arrive.
	time.Sleep(settle)
	for i, c := range []*collector{c1, c2} {
		c.mu.Lock()
		n := len(c.got)
		c.mu.Unlock()
		if n != 1 {
			t.Fatalf("subscriber %d received %d events, want 1", i, n)
		}
	}
}

func testNoReplay(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.Publish(ctx, "t", []byte(`"before"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	c := newCollector()
	subscribe(ctx, b, c.handle)

	if _, err := b.Publish(ctx, "t", []byte(`"after"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := c.wait(t, 1)
	if string(got[0].Data) != `"after"` {
		t.Fatalf("late subscriber must not see earlier events, got %s", got[0].Data)
	}
}

func testOrderedDelivery(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := newCollector()
	subscribe(ctx, b, c.handle)

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := b.Publish(ctx, "t", []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	got := c.wait(t, n)
	for i, env := range got {
		if string(env.Data) != fmt.Sprintf("%d", i) {
			t.Fatalf("event %d out of order: %s", i, env.Data)
		}
	}
}

func testSubscriptionContextCancellation(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := subscribe(ctx, b, func(context.Context, broker.MessageEnvelope) error { return nil })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after cancellation")
	}
}

func testHandlerErrorStopsSubscription(t *testing.T, factory BrokerFactory) {
	b := factory(t)
	defer cleanupBroker(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stop := errors.New("stop")
	done := subscribe(ctx, b, func(context.Context, broker.MessageEnvelope) error { return stop })

	if _, err := b.Publish(ctx, "t", []byte(`1`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, stop) {
			t.Fatalf("Expected handler error, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Subscribe did not return after handler error")
	}
}

func testCloseEndsSubscriptions(t *testing.T, factory BrokerFactory) {
	b := factory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := subscribe(ctx, b, func(context.Context, broker.MessageEnvelope) error { return nil })
	cleanupBroker(t, b)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected an error once the broker is closed")
		}
	case <-ctx.Done():
		t.Fatal("Subscribe did not return after Close")
	}

	if _, err := b.Publish(context.Background(), "t", []byte(`1`)); !errors.Is(err, broker.ErrClosed) {
		t.Fatalf("Expected ErrClosed from Publish after Close, got %v", err)
	}
}
