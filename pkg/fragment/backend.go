package fragment

import (
	"sort"
	"sync"
)

// Backend is one of the independent shard databases, keyed by (group, type).
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the shard, or ok = false if none is stored.
	Get(group string, t Type) (shard []byte, ok bool, err error)
	Put(group string, t Type, shard []byte) error
	// Clear drops every shard.
	Clear() error
	// List returns the stored types per group.
	List() (map[string][]Type, error)
	Close() error
}

// MemBackend keeps shards in memory.
type MemBackend struct {
	mtx  sync.Mutex
	data map[string]map[Type][]byte
}

func NewMemBackend() *MemBackend {
	return &MemBackend{data: make(map[string]map[Type][]byte)}
}

func (b *MemBackend) Get(group string, t Type) ([]byte, bool, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	shard, ok := b.data[group][t]
	if !ok || len(shard) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), shard...), true, nil
}

func (b *MemBackend) Put(group string, t Type, shard []byte) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	m, ok := b.data[group]
	if !ok {
		m = make(map[Type][]byte)
		b.data[group] = m
	}
	m[t] = append([]byte(nil), shard...)
	return nil
}

func (b *MemBackend) Clear() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.data = make(map[string]map[Type][]byte)
	return nil
}

func (b *MemBackend) List() (map[string][]Type, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	out := make(map[string][]Type, len(b.data))
	for group, m := range b.data {
		for t := range m {
			out[group] = append(out[group], t)
		}
		sortTypes(out[group])
	}
	return out, nil
}

func (b *MemBackend) Close() error { return nil }

func sortTypes(types []Type) {
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
}
