// Package storagetest provides a conformance suite for storage.Storage
// implementations.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/wsrpc/storage"
)

// StorageFactory creates a fresh storage instance for one subtest.
type StorageFactory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete storage test suite against factory.
func RunStorageTests(t *testing.T, factory StorageFactory) {
	t.Run("SetAndGet", func(t *testing.T) {
		testSetAndGet(t, factory(t))
	})
	t.Run("GetNonExistent", func(t *testing.T) {
		testGetNonExistent(t, factory(t))
	})
	t.Run("TTL", func(t *testing.T) {
		testTTL(t, factory(t))
	})
	t.Run("Namespaces", func(t *testing.T) {
		testNamespaces(t, factory(t))
	})
	t.Run("DeleteKey", func(t *testing.T) {
		testDeleteKey(t, factory(t))
	})
	t.Run("DeleteNamespace", func(t *testing.T) {
		testDeleteNamespace(t, factory(t))
	})
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "selector", []byte(`{"selectedIndex":1}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	item, err := s.Get(ctx, "selector")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item, got nil")
	}
	if string(item.Data) != `{"selectedIndex":1}` {
		t.Fatalf("Unexpected data %s", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("Expected CreatedAt to be set")
	}
	if item.ExpiresAt != nil {
		t.Fatal("Expected no expiration")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	defer s.Close()

	item, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item != nil {
		t.Fatalf("Expected nil item, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "short", []byte("x"), storage.WithTTL(time.Second)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	item, err := s.Get(ctx, "short")
	if err != nil || item == nil {
		t.Fatalf("Expected item before expiry, got %v, %v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("Expected ExpiresAt to be set")
	}

	time.Sleep(1500 * time.Millisecond)

	item, err = s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item != nil {
		t.Fatal("Expected item to be expired")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("a"), storage.WithNamespace("pictures")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("b"), storage.WithNamespace("other")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("c")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	for ns, want := range map[string]string{"pictures": "a", "other": "b", "": "c"} {
		item, err := s.Get(ctx, "k", storage.WithNamespace(ns))
		if err != nil || item == nil {
			t.Fatalf("namespace %q: expected item, got %v, %v", ns, item, err)
		}
		if string(item.Data) != want {
			t.Fatalf("namespace %q: got %s want %s", ns, item.Data, want)
		}
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"))
	_ = s.Set(ctx, "b", []byte("2"))

	if err := s.Delete(ctx, storage.WithKey("a")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if item, _ := s.Get(ctx, "a"); item != nil {
		t.Fatal("Expected a to be deleted")
	}
	if item, _ := s.Get(ctx, "b"); item == nil {
		t.Fatal("Expected b to survive")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	defer s.Close()
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), storage.WithNamespace("pictures"))
	_ = s.Set(ctx, "b", []byte("2"), storage.WithNamespace("pictures"))
	_ = s.Set(ctx, "a", []byte("3"), storage.WithNamespace("other"))

	if err := s.Delete(ctx, storage.WithNamespace("pictures")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	for _, key := range []string{"a", "b"} {
		if item, _ := s.Get(ctx, key, storage.WithNamespace("pictures")); item != nil {
			t.Fatalf("Expected pictures/%s to be deleted", key)
		}
	}
	if item, _ := s.Get(ctx, "a", storage.WithNamespace("other")); item == nil {
		t.Fatal("Expected other/a to survive")
	}
}
