package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by CompareAndSwap when the stored tag no
	// longer matches the expected one.
	ErrConflict = errors.New("record conflict")
)

// Item is one record addressed by (table, partition, key). Tag is an opaque
// version marker compared by CompareAndSwap.
type Item struct {
	Table     string `json:"table"`
	Partition string `json:"partition"`
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	Tag       string `json:"tag,omitempty"`
}

// KV is the narrow persistence interface the engine consumes.
type KV interface {
	// Get returns the item or ErrNotFound.
	Get(ctx context.Context, table, partition, key string) (Item, error)

	// Put unconditionally upserts the item (last writer wins).
	Put(ctx context.Context, item Item) error

	// CompareAndSwap writes item only if the stored tag equals expectedTag.
	// An empty expectedTag means the record must not exist yet.
	// It returns ErrConflict when the precondition fails.
	CompareAndSwap(ctx context.Context, item Item, expectedTag string) error

	// Delete removes the item. Deleting a missing item is not an error.
	Delete(ctx context.Context, table, partition, key string) error

	// Scan returns every item of a partition ordered by key.
	Scan(ctx context.Context, table, partition string) ([]Item, error)

	// Close releases backend resources.
	Close() error
}

func validateAddress(table, partition, key string) error {
	if table == "" || partition == "" || key == "" {
		return errors.New("table, partition and key are required")
	}
	return nil
}
