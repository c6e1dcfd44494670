package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryValue struct {
	data    []byte
	updated time.Time
}

// MemoryStore is a Store that keeps everything in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryValue
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]memoryValue)}
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v.data...), nil
}

func (s *MemoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]memoryValue)
		s.data[namespace] = ns
	}
	ns[key] = memoryValue{data: append([]byte{}, value...), updated: time.Now().UTC()}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[namespace], key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, namespace string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.data[namespace]))
	for k, v := range s.data[namespace] {
		out = append(out, Entry{Key: k, UpdatedAt: v.updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
