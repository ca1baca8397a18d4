// Package sqlite provides a SQLite-backed store.KV implementation.
//
// Conditional commits map onto a single statement: creation is a plain
// INSERT that fails on the primary key, replacement is an UPDATE guarded by
// the expected tag. Either way the database decides the single winner.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wricardo/turnbased-match-server/game/store"
	"github.com/wricardo/turnbased-match-server/game/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists KV items in one SQLite table.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection serializes writers inside the process; other processes
	// still contend through SQLite's own locking
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns one item.
func (s *Store) Get(ctx context.Context, table, partition, key string) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return store.Item{}, err
	}
	item := store.Item{Table: table, Partition: partition, Key: key}
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value, tag FROM kv_items WHERE table_name = ? AND partition_key = ? AND record_key = ?`,
		table, partition, key,
	).Scan(&item.Value, &item.Tag)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Item{}, store.ErrNotFound
	}
	if err != nil {
		return store.Item{}, fmt.Errorf("get kv item: %w", err)
	}
	return item, nil
}

// Put upserts one item.
func (s *Store) Put(ctx context.Context, item store.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(item); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO kv_items (table_name, partition_key, record_key, value, tag, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (table_name, partition_key, record_key) DO UPDATE SET
		   value = excluded.value,
		   tag = excluded.tag,
		   updated_at = excluded.updated_at`,
		item.Table, item.Partition, item.Key, valueOf(item), item.Tag, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("put kv item: %w", err)
	}
	return nil
}

// CompareAndSwap writes item when the stored tag equals expectedTag. An
// empty expectedTag requires the item to be absent.
func (s *Store) CompareAndSwap(ctx context.Context, item store.Item, expectedTag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validate(item); err != nil {
		return err
	}

	if expectedTag == "" {
		_, err := s.sqlDB.ExecContext(ctx,
			`INSERT INTO kv_items (table_name, partition_key, record_key, value, tag, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			item.Table, item.Partition, item.Key, valueOf(item), item.Tag, nowMillis(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return fmt.Errorf("create kv item: %w", err)
		}
		return nil
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE kv_items SET value = ?, tag = ?, updated_at = ?
		 WHERE table_name = ? AND partition_key = ? AND record_key = ? AND tag = ?`,
		valueOf(item), item.Tag, nowMillis(),
		item.Table, item.Partition, item.Key, expectedTag,
	)
	if err != nil {
		return fmt.Errorf("swap kv item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap kv item rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

// Delete removes one item; deleting a missing item succeeds.
func (s *Store) Delete(ctx context.Context, table, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM kv_items WHERE table_name = ? AND partition_key = ? AND record_key = ?`,
		table, partition, key,
	); err != nil {
		return fmt.Errorf("delete kv item: %w", err)
	}
	return nil
}

// Scan lists a partition ordered by key.
func (s *Store) Scan(ctx context.Context, table, partition string) ([]store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT record_key, value, tag FROM kv_items
		 WHERE table_name = ? AND partition_key = ?
		 ORDER BY record_key`,
		table, partition,
	)
	if err != nil {
		return nil, fmt.Errorf("scan kv items: %w", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		item := store.Item{Table: table, Partition: partition}
		if err := rows.Scan(&item.Key, &item.Value, &item.Tag); err != nil {
			return nil, fmt.Errorf("scan kv row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv rows: %w", err)
	}
	return items, nil
}

func validate(item store.Item) error {
	if item.Table == "" || item.Partition == "" || item.Key == "" {
		return fmt.Errorf("table, partition and key are required")
	}
	return nil
}

// valueOf keeps NOT NULL satisfied for empty values.
func valueOf(item store.Item) []byte {
	if item.Value == nil {
		return []byte{}
	}
	return item.Value
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ store.KV = (*Store)(nil)
