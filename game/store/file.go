package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore implements KV on the file system: one JSON file per record
// under <dir>/<table>/<partition>/<key>.json.
//
// CompareAndSwap is atomic only within one process (guarded by a mutex).
// Several processes sharing the same directory can still lose an update
// between the tag check and the rename; use the sqlite or redis backend for
// multi-process deployments.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

type fileRecord struct {
	Key   string `json:"key"`
	Tag   string `json:"tag,omitempty"`
	Value []byte `json:"value"`
}

// NewFileStore creates a new file-based store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Get reads one record
func (fs *FileStore) Get(ctx context.Context, table, partition, key string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	rec, err := fs.read(fs.filePath(table, partition, key))
	if err != nil {
		return Item{}, err
	}
	return Item{Table: table, Partition: partition, Key: key, Value: rec.Value, Tag: rec.Tag}, nil
}

// Put writes one record unconditionally
func (fs *FileStore) Put(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress(item.Table, item.Partition, item.Key); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.write(item)
}

// CompareAndSwap writes the record when the stored tag matches expectedTag
func (fs *FileStore) CompareAndSwap(ctx context.Context, item Item, expectedTag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateAddress(item.Table, item.Partition, item.Key); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.read(fs.filePath(item.Table, item.Partition, item.Key))
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedTag != "" {
			return ErrConflict
		}
	case err != nil:
		return err
	case expectedTag == "" || rec.Tag != expectedTag:
		return ErrConflict
	}
	return fs.write(item)
}

// Delete removes a record file
func (fs *FileStore) Delete(ctx context.Context, table, partition, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.filePath(table, partition, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record file: %w", err)
	}
	return nil
}

// Scan returns all records of a partition
func (fs *FileStore) Scan(ctx context.Context, table, partition string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := fs.partitionDir(table, partition)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read partition directory: %w", err)
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		rec, err := fs.read(filepath.Join(dir, entry.Name()))
		if errors.Is(err, ErrNotFound) {
			// deleted concurrently
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Table: table, Partition: partition, Key: rec.Key, Value: rec.Value, Tag: rec.Tag})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

// Close is a no-op for the file store
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) read(path string) (fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileRecord{}, ErrNotFound
		}
		return fileRecord{}, fmt.Errorf("failed to read record file: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fileRecord{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}

// write replaces the record through a temp file and rename so readers
// never observe a partially written file.
func (fs *FileStore) write(item Item) error {
	dir := fs.partitionDir(item.Table, item.Partition)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}
	data, err := json.Marshal(fileRecord{Key: item.Key, Tag: item.Tag, Value: item.Value})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close record file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.filePath(item.Table, item.Partition, item.Key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace record file: %w", err)
	}
	return nil
}

func (fs *FileStore) partitionDir(table, partition string) string {
	return filepath.Join(fs.dir, url.PathEscape(table), url.PathEscape(partition))
}

func (fs *FileStore) filePath(table, partition, key string) string {
	return filepath.Join(fs.partitionDir(table, partition), url.PathEscape(key)+".json")
}
