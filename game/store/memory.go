package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process KV used for tests and single-node setups.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Item // table/partition -> key -> item
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]Item)}
}

func partitionKey(table, partition string) string {
	return table + "/" + partition
}

func copyItem(item Item) Item {
	value := make([]byte, len(item.Value))
	copy(value, item.Value)
	item.Value = value
	return item
}

// Get returns the item stored under the address
func (m *MemoryStore) Get(ctx context.Context, table, partition, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[partitionKey(table, partition)][key]
	if !ok {
		return Item{}, ErrNotFound
	}
	return copyItem(item), nil
}

// Put upserts the item
func (m *MemoryStore) Put(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress(item.Table, item.Partition, item.Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(item)
	return nil
}

// CompareAndSwap writes the item when the stored tag matches expectedTag
func (m *MemoryStore) CompareAndSwap(ctx context.Context, item Item, expectedTag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress(item.Table, item.Partition, item.Key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.items[partitionKey(item.Table, item.Partition)][item.Key]
	switch {
	case expectedTag == "" && exists:
		return ErrConflict
	case expectedTag != "" && (!exists || current.Tag != expectedTag):
		return ErrConflict
	}
	m.putLocked(item)
	return nil
}

func (m *MemoryStore) putLocked(item Item) {
	pk := partitionKey(item.Table, item.Partition)
	if m.items[pk] == nil {
		m.items[pk] = make(map[string]Item)
	}
	m.items[pk][item.Key] = copyItem(item)
}

// Delete removes the item if present
func (m *MemoryStore) Delete(ctx context.Context, table, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	pk := partitionKey(table, partition)
	delete(m.items[pk], key)
	if len(m.items[pk]) == 0 {
		delete(m.items, pk)
	}
	return nil
}

// Scan lists a partition ordered by key
func (m *MemoryStore) Scan(ctx context.Context, table, partition string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Item, 0, len(m.items[partitionKey(table, partition)]))
	for _, item := range m.items[partitionKey(table, partition)] {
		items = append(items, copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
