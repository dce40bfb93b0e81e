package task

import (
	"context"
	"sync"
	"time"
)

type InMemoryBindingStore struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewInMemoryBindingStore() *InMemoryBindingStore {
	return &InMemoryBindingStore{bindings: make(map[string]Binding)}
}

func (s *InMemoryBindingStore) Save(_ context.Context, b Binding) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[b.TaskID]; ok {
		b.CreatedAt = existing.CreatedAt
	} else if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.bindings[b.TaskID] = b
	return nil
}

func (s *InMemoryBindingStore) Get(_ context.Context, taskID string) (Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[taskID]
	if !ok {
		return Binding{}, ErrBindingNotFound
	}
	return b, nil
}

func (s *InMemoryBindingStore) Close() error { return nil }
