package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps values in a map. It is used in tests and when no
// durable location is configured.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]byte
	used  int64
	quota int64
}

// NewMemoryBackend creates an in-memory backend. quota <= 0 disables the
// backend's own limit.
func NewMemoryBackend(quota int64) *MemoryBackend {
	if quota < 0 {
		quota = 0
	}
	return &MemoryBackend{
		items: make(map[string][]byte),
		quota: quota,
	}
}

func (m *MemoryBackend) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used - int64(len(m.items[key])) + int64(len(value))
	if m.quota > 0 && next > m.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, next, m.quota)
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.items[key] = v
	m.used = next
	return nil
}

func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.items[key]; ok {
		m.used -= int64(len(v))
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryBackend) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Estimate() (Estimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Estimate{Usage: m.used, Quota: m.quota}, nil
}

// SetQuota changes the backend limit. Existing data is kept even if it no
// longer fits.
func (m *MemoryBackend) SetQuota(quota int64) {
	m.mu.Lock()
	m.quota = quota
	m.mu.Unlock()
}

func (m *MemoryBackend) Close() error {
	return nil
}
