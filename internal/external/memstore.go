package external

import (
	"context"
	"sync"
)

// MemoryObjectStore keeps objects in process memory. It is used when no
// bucket is configured.
type MemoryObjectStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
}

func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	if baseURL == "" {
		baseURL = "memory://images"
	}
	return &MemoryObjectStore{baseURL: baseURL, objects: map[string][]byte{}}
}

func (m *MemoryObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return m.baseURL + "/" + key, nil
}

func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryObjectStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MemoryObjectStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
