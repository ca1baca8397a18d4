// Package storetest holds the behavioural test suite shared by every
// store.KV backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/wricardo/turnbased-match-server/game/store"
)

// RunKVSuite exercises the KV contract against a fresh store per subtest.
func RunKVSuite(t *testing.T, newStore func(t *testing.T) store.KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		kv := newStore(t)
		_, err := kv.Get(ctx, "sessions", "p", "missing")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		kv := newStore(t)
		item := store.Item{Table: "sessions", Partition: "p", Key: "k/1", Value: []byte(`{"a":1}`), Tag: "t1"}
		if err := kv.Put(ctx, item); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := kv.Get(ctx, "sessions", "p", "k/1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Value) != `{"a":1}` || got.Tag != "t1" {
			t.Errorf("Unexpected item: %+v", got)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		kv := newStore(t)
		for _, v := range []string{"one", "two"} {
			if err := kv.Put(ctx, store.Item{Table: "t", Partition: "p", Key: "k", Value: []byte(v)}); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		got, err := kv.Get(ctx, "t", "p", "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Value) != "two" {
			t.Errorf("Expected last write to win, got %q", got.Value)
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		kv := newStore(t)
		first := store.Item{Table: "states", Partition: "p", Key: "s1", Value: []byte("v1"), Tag: "a"}
		if err := kv.CompareAndSwap(ctx, first, ""); err != nil {
			t.Fatalf("Create via CAS failed: %v", err)
		}
		if err := kv.CompareAndSwap(ctx, first, ""); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("Expected conflict on second create, got %v", err)
		}

		second := store.Item{Table: "states", Partition: "p", Key: "s1", Value: []byte("v2"), Tag: "b"}
		if err := kv.CompareAndSwap(ctx, second, "wrong"); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("Expected conflict on stale tag, got %v", err)
		}
		if err := kv.CompareAndSwap(ctx, second, "a"); err != nil {
			t.Fatalf("CAS with current tag failed: %v", err)
		}
		got, err := kv.Get(ctx, "states", "p", "s1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Value) != "v2" || got.Tag != "b" {
			t.Errorf("Unexpected item after CAS: %+v", got)
		}

		missing := store.Item{Table: "states", Partition: "p", Key: "nope", Value: []byte("x"), Tag: "c"}
		if err := kv.CompareAndSwap(ctx, missing, "a"); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("Expected conflict when expecting a tag on a missing record, got %v", err)
		}
	})

	t.Run("concurrent compare and swap has one winner", func(t *testing.T) {
		kv := newStore(t)
		base := store.Item{Table: "states", Partition: "p", Key: "race", Value: []byte("v0"), Tag: "v0"}
		if err := kv.Put(ctx, base); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tag := fmt.Sprintf("v%d", i+1)
				err := kv.CompareAndSwap(ctx, store.Item{Table: "states", Partition: "p", Key: "race", Value: []byte(tag), Tag: tag}, "v0")
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, store.ErrConflict) {
					t.Errorf("Unexpected CAS error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("Expected exactly one winner, got %d", wins)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		kv := newStore(t)
		if err := kv.Put(ctx, store.Item{Table: "t", Partition: "p", Key: "k", Value: []byte("v")}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := kv.Delete(ctx, "t", "p", "k"); err != nil {
				t.Fatalf("Delete #%d failed: %v", i+1, err)
			}
		}
		if _, err := kv.Get(ctx, "t", "p", "k"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("scan partition", func(t *testing.T) {
		kv := newStore(t)
		for _, key := range []string{"b", "a", "c"} {
			if err := kv.Put(ctx, store.Item{Table: "actions", Partition: "s1", Key: key, Value: []byte(key)}); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
		}
		if err := kv.Put(ctx, store.Item{Table: "actions", Partition: "s2", Key: "z", Value: []byte("z")}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		items, err := kv.Scan(ctx, "actions", "s1")
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if len(items) != 3 {
			t.Fatalf("Expected 3 items, got %d", len(items))
		}
		for i, want := range []string{"a", "b", "c"} {
			if items[i].Key != want {
				t.Errorf("Expected key %q at %d, got %q", want, i, items[i].Key)
			}
		}

		empty, err := kv.Scan(ctx, "actions", "none")
		if err != nil {
			t.Fatalf("Scan of empty partition failed: %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("Expected empty scan, got %d items", len(empty))
		}
	})
}
