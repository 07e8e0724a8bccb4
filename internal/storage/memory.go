package storage

import (
	"context"
	"errors"
	"sync"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	dsync "github.com/ipfs/go-datastore/sync"
)

// Memory is an in-process tier backed by a thread-safe map datastore.
type Memory struct {
	store   ds.Datastore
	maxSize int64

	mu   sync.Mutex
	used int64
}

// NewMemory creates a memory tier holding at most maxSize bytes of values.
// maxSize <= 0 means unbounded.
func NewMemory(maxSize int64) *Memory {
	return &Memory{
		store:   dsync.MutexWrap(ds.NewMapDatastore()),
		maxSize: maxSize,
	}
}

// Datastore exposes the underlying datastore.
func (m *Memory) Datastore() ds.Datastore { return m.store }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := m.store.Get(ctx, ds.NewKey(key))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	k := ds.NewKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	var old int64
	if size, err := m.store.GetSize(ctx, k); err == nil {
		old = int64(size)
	}
	next := m.used - old + int64(len(value))
	if m.maxSize > 0 && next > m.maxSize {
		return ErrFull
	}

	buf := make([]byte, len(value))
	copy(buf, value)
	if err := m.store.Put(ctx, k, buf); err != nil {
		return err
	}
	m.used = next
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	k := ds.NewKey(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	size, err := m.store.GetSize(ctx, k)
	if errors.Is(err, ds.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, k); err != nil {
		return err
	}
	m.used -= int64(size)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	results, err := m.store.Query(ctx, query.Query{Prefix: prefix, KeysOnly: true})
	if err != nil {
		return nil, err
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Used returns the bytes currently held.
func (m *Memory) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *Memory) Close() error {
	return m.store.Close()
}
