package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV implements KV with an in-memory map. Nothing survives a restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

var _ KV = (*MemoryKV)(nil)

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string]string)}
}

// Get implements KV.
func (m *MemoryKV) Get(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[ns][key]
	return v, ok, nil
}

// Set implements KV.
func (m *MemoryKV) Set(_ context.Context, ns, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[ns] == nil {
		m.data[ns] = make(map[string]string)
	}
	m.data[ns][key] = value
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(ns, key)
	return nil
}

// Take implements KV.
func (m *MemoryKV) Take(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns][key]
	if ok {
		m.deleteLocked(ns, key)
	}
	return v, ok, nil
}

func (m *MemoryKV) deleteLocked(ns, key string) {
	bucket, ok := m.data[ns]
	if !ok {
		return
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(m.data, ns)
	}
}

// Keys implements KV.
func (m *MemoryKV) Keys(_ context.Context, ns, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data[ns] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteNamespace implements KV.
func (m *MemoryKV) DeleteNamespace(_ context.Context, ns string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data[ns]))
	delete(m.data, ns)
	return n, nil
}

// Close implements KV.
func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]map[string]string)
	return nil
}
