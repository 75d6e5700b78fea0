package pictures

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ggoodman/wsrpc/broker"
	brokermem "github.com/ggoodman/wsrpc/broker/memory"
	"github.com/ggoodman/wsrpc/internal/jsonrpc"
	"github.com/ggoodman/wsrpc/storage"
	storagemem "github.com/ggoodman/wsrpc/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storagemem.New(16)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestService_GetSelectorDefaults(t *testing.T) {
	t.Parallel()

	svc := NewService(NewStaticCatalog(DefaultPictures...), newStore(t), nil, WithLogger(quietLogger()))
	data, err := svc.GetSelector(context.Background())
	if err != nil {
		t.Fatalf("GetSelector: %v", err)
	}
	if data.SelectedIndex != 0 || data.Disabled {
		t.Fatalf("unexpected initial state %+v", data)
	}
	if len(data.Options) != len(DefaultPictures) {
		t.Fatalf("expected %d options, got %d", len(DefaultPictures), len(data.Options))
	}
}

func TestService_UpdatePictureWraps(t *testing.T) {
	t.Parallel()

	svc := NewService(NewStaticCatalog("a.png", "b.png", "c.png"), newStore(t), nil, WithLogger(quietLogger()))
	ctx := context.Background()

	var got []int
	for i := 0; i < 4; i++ {
		data, err := svc.UpdatePicture(ctx)
		if err != nil {
			t.Fatalf("UpdatePicture: %v", err)
		}
		got = append(got, data.SelectedIndex)
	}
	want := []int{1, 2, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("selection sequence %v, want %v", got, want)
		}
	}
}

func TestService_Select(t *testing.T) {
	t.Parallel()

	svc := NewService(NewStaticCatalog("a.png", "b.png"), newStore(t), nil, WithLogger(quietLogger()))
	ctx := context.Background()

	data, err := svc.Select(ctx, 1)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if opt, ok := data.Selected(); !ok || opt.Value != "b.png" {
		t.Fatalf("unexpected selection %+v", data)
	}

	_, err = svc.Select(ctx, 5)
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("expected invalid params error, got %v", err)
	}
	if data, _ := svc.GetSelector(ctx); data.SelectedIndex != 1 {
		t.Fatalf("failed select must not change state, got %d", data.SelectedIndex)
	}
}

func TestService_EmptyCatalogIsDisabled(t *testing.T) {
	t.Parallel()

	svc := NewService(NewStaticCatalog(), newStore(t), nil, WithLogger(quietLogger()))
	data, err := svc.UpdatePicture(context.Background())
	if err != nil {
		t.Fatalf("UpdatePicture: %v", err)
	}
	if !data.Disabled || data.SelectedIndex != 0 {
		t.Fatalf("expected disabled selector, got %+v", data)
	}
}

func TestService_StatePersistsInStorage(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	catalog := NewStaticCatalog("a.png", "b.png", "c.png")

	first := NewService(catalog, store, nil, WithLogger(quietLogger()))
	if _, err := first.Select(context.Background(), 2); err != nil {
		t.Fatalf("Select: %v", err)
	}

	second := NewService(catalog, store, nil, WithLogger(quietLogger()))
	data, err := second.GetSelector(context.Background())
	if err != nil {
		t.Fatalf("GetSelector: %v", err)
	}
	if data.SelectedIndex != 2 {
		t.Fatalf("expected persisted index 2, got %d", data.SelectedIndex)
	}
}

func TestService_PublishesChanges(t *testing.T) {
	t.Parallel()

	b := brokermem.New()
	defer b.Close()

	svc := NewService(NewStaticCatalog("a.png", "b.png"), newStore(t), b, WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	events := make(chan broker.MessageEnvelope, 1)
	go func() {
		_ = b.Subscribe(ctx, func(ctx context.Context, msg broker.MessageEnvelope) error {
			events <- msg
			return nil
		})
	}()
	for b.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.UpdatePicture(ctx); err != nil {
		t.Fatalf("UpdatePicture: %v", err)
	}

	select {
	case msg := <-events:
		if msg.Topic != TopicSelector {
			t.Fatalf("unexpected topic %q", msg.Topic)
		}
		var data DropDownData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if data.SelectedIndex != 1 {
			t.Fatalf("expected pushed index 1, got %d", data.SelectedIndex)
		}
	case <-ctx.Done():
		t.Fatalf("no event published")
	}
}

func TestService_DiscoverListsPictureMethods(t *testing.T) {
	t.Parallel()

	svc := NewService(NewStaticCatalog("a.png"), newStore(t), nil, WithLogger(quietLogger()))
	var names []string
	for _, m := range svc.Router().Methods() {
		names = append(names, m.Name)
	}
	want := []string{MethodGetSelector, MethodSelect, MethodUpdatePicture, "rpc.discover"}
	if len(names) != len(want) {
		t.Fatalf("methods %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("methods %v, want %v", names, want)
		}
	}
}
