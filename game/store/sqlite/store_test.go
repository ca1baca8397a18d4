package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/store/storetest"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestStoreContract(t *testing.T) {
	storetest.RunKVSuite(t, func(t *testing.T) store.KV {
		return openTempStore(t)
	})
}

func TestReopenKeepsDataAndSkipsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	item := store.Item{Table: "states", Partition: "state", Key: "s1", Value: []byte("v"), Tag: "t"}
	if err := s.Put(context.Background(), item); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "states", "state", "s1")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Tag != "t" || string(got.Value) != "v" {
		t.Fatalf("item = %+v, want tag t value v", got)
	}
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("upSection = %q", got)
	}
	if upSection("SELECT 1;") != "SELECT 1;" {
		t.Fatal("expected content without markers to be returned unchanged")
	}
}
