// Package redisstore implements store.KV and a lifecycle delay queue on Redis.
//
// Each record lives under its own string key so CompareAndSwap can WATCH
// exactly one key; a per-partition sorted set (all scores zero) keeps the
// member keys in lexicographic order for Scan.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wricardo/turnbased-match-server/game/store"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "turnengine"

type record struct {
	Tag   string `json:"tag,omitempty"`
	Value []byte `json:"value"`
}

// Store is a Redis backed KV.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Open connects to addr and verifies the connection with PING.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, DefaultPrefix), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Client exposes the underlying client so the delay queue can share it.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) recordKey(table, partition, key string) string {
	return s.prefix + ":kv:" + table + ":" + partition + ":" + key
}

func (s *Store) indexKey(table, partition string) string {
	return s.prefix + ":idx:" + table + ":" + partition
}

// Get returns one item.
func (s *Store) Get(ctx context.Context, table, partition, key string) (store.Item, error) {
	data, err := s.rdb.Get(ctx, s.recordKey(table, partition, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Item{}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("redis get: %w", err)
	}
	return decode(table, partition, key, data)
}

// Put upserts one item.
func (s *Store) Put(ctx context.Context, item store.Item) error {
	if item.Table == "" || item.Partition == "" || item.Key == "" {
		return fmt.Errorf("table, partition and key are required")
	}
	data, err := json.Marshal(record{Tag: item.Tag, Value: item.Value})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(item.Table, item.Partition, item.Key), data, 0)
		pipe.ZAdd(ctx, s.indexKey(item.Table, item.Partition), redis.Z{Member: item.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// CompareAndSwap writes item when the stored tag equals expectedTag, using
// WATCH/MULTI on the record key. A concurrent writer aborts the transaction
// and surfaces as store.ErrConflict.
func (s *Store) CompareAndSwap(ctx context.Context, item store.Item, expectedTag string) error {
	if item.Table == "" || item.Partition == "" || item.Key == "" {
		return fmt.Errorf("table, partition and key are required")
	}
	data, err := json.Marshal(record{Tag: item.Tag, Value: item.Value})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	rk := s.recordKey(item.Table, item.Partition, item.Key)

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rk).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedTag != "" {
				return store.ErrConflict
			}
		case err != nil:
			return err
		default:
			if expectedTag == "" {
				return store.ErrConflict
			}
			var rec record
			if err := json.Unmarshal(current, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			if rec.Tag != expectedTag {
				return store.ErrConflict
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, 0)
			pipe.ZAdd(ctx, s.indexKey(item.Table, item.Partition), redis.Z{Member: item.Key})
			return nil
		})
		return err
	}, rk)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, redis.TxFailedErr):
		return store.ErrConflict
	default:
		return fmt.Errorf("redis compare and swap: %w", err)
	}
}

// Delete removes one item.
func (s *Store) Delete(ctx context.Context, table, partition, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(table, partition, key))
		pipe.ZRem(ctx, s.indexKey(table, partition), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Scan lists a partition ordered by key. Index members whose record has
// vanished in between are skipped.
func (s *Store) Scan(ctx context.Context, table, partition string) ([]store.Item, error) {
	keys, err := s.rdb.ZRange(ctx, s.indexKey(table, partition), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan index: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	recordKeys := make([]string, len(keys))
	for i, k := range keys {
		recordKeys[i] = s.recordKey(table, partition, k)
	}
	values, err := s.rdb.MGet(ctx, recordKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan records: %w", err)
	}

	items := make([]store.Item, 0, len(keys))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		item, err := decode(table, partition, keys[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func decode(table, partition, key string, data []byte) (store.Item, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return store.Item{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return store.Item{Table: table, Partition: partition, Key: key, Value: rec.Value, Tag: rec.Tag}, nil
}

var _ store.KV = (*Store)(nil)
