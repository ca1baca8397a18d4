package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DelayQueue is a sorted set of due lifecycle checks scored by due time in
// unix milliseconds. Several server processes may poll the same queue; a
// job is handled by whichever process removes it first.
type DelayQueue struct {
	rdb      *redis.Client
	key      string
	interval time.Duration
	batch    int64

	mu      sync.RWMutex
	handler func(ctx context.Context, sessionID string, fingerprint uint64)
}

type job struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint"`
}

// NewDelayQueue creates a queue stored under <prefix>:lifecycle.
func NewDelayQueue(rdb *redis.Client, prefix string, interval time.Duration) *DelayQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &DelayQueue{rdb: rdb, key: prefix + ":lifecycle", interval: interval, batch: 32}
}

// Listen binds the function invoked for every due job.
func (q *DelayQueue) Listen(handler func(ctx context.Context, sessionID string, fingerprint uint64)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Schedule enqueues a check due after delay.
func (q *DelayQueue) Schedule(ctx context.Context, delay time.Duration, sessionID string, fingerprint uint64) error {
	data, err := json.Marshal(job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Fingerprint: strconv.FormatUint(fingerprint, 10),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: float64(due), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("redis schedule: %w", err)
	}
	return nil
}

// Run polls for due jobs until ctx is cancelled.
func (q *DelayQueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		if _, err := q.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Lifecycle queue poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll claims and handles every job due now. It returns the number handled.
func (q *DelayQueue) Poll(ctx context.Context) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis poll: %w", err)
	}

	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()

	handled := 0
	for _, member := range members {
		removed, err := q.rdb.ZRem(ctx, q.key, member).Result()
		if err != nil {
			return handled, fmt.Errorf("redis claim: %w", err)
		}
		if removed == 0 {
			// claimed by another process
			continue
		}
		var j job
		if err := json.Unmarshal([]byte(member), &j); err != nil {
			log.Printf("Dropping malformed lifecycle job: %v", err)
			continue
		}
		fp, err := strconv.ParseUint(j.Fingerprint, 10, 64)
		if err != nil {
			log.Printf("Dropping lifecycle job with bad fingerprint %q", j.Fingerprint)
			continue
		}
		if handler != nil {
			handler(ctx, j.SessionID, fp)
		}
		handled++
	}
	return handled, nil
}

// Len reports how many jobs are queued.
func (q *DelayQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.key).Result()
}
