package redisstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/store/storetest"
)

// testClient connects to the Redis named by TURNENGINE_TEST_REDIS_ADDR or
// skips the test.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TURNENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TURNENGINE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestOpenRequiresAddress(t *testing.T) {
	if _, err := Open(context.Background(), "", "", 0); err == nil {
		t.Fatal("expected empty address error")
	}
}

func TestStoreContract(t *testing.T) {
	rdb := testClient(t)
	storetest.RunKVSuite(t, func(t *testing.T) store.KV {
		// a unique prefix per subtest keeps runs isolated
		return New(rdb, "test-"+uuid.NewString())
	})
}

func TestDelayQueue(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	q := NewDelayQueue(rdb, "test-"+uuid.NewString(), 10*time.Millisecond)

	var mu sync.Mutex
	var got []string
	q.Listen(func(ctx context.Context, sessionID string, fingerprint uint64) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, sessionID)
		if fingerprint != 42 {
			t.Errorf("Expected fingerprint 42, got %d", fingerprint)
		}
	})

	if err := q.Schedule(ctx, 0, "due", 42); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := q.Schedule(ctx, time.Hour, "later", 42); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	n, err := q.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 handled job, got %d", n)
	}
	mu.Lock()
	if len(got) != 1 || got[0] != "due" {
		t.Errorf("Expected only the due session, got %v", got)
	}
	mu.Unlock()

	remaining, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("Expected the later job to stay queued, got %d", remaining)
	}
}
