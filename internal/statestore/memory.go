package statestore

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
type MemoryStore struct {
	mu     sync.Mutex
	scopes map[string]map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]string)}
}

func (s *MemoryStore) Put(_ context.Context, scope, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.scopes[scope]
	if !ok {
		kv = make(map[string]string)
		s.scopes[scope] = kv
	}
	kv[key] = value
	return nil
}

func (s *MemoryStore) Get(_ context.Context, scope, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scopes[scope][key], nil
}

func (s *MemoryStore) Pull(_ context.Context, scope, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.scopes[scope]
	if !ok {
		return "", nil
	}
	v := kv[key]
	delete(kv, key)
	return v, nil
}
