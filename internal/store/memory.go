package store

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// memStore keeps records in a map. Nothing survives the process; use it
// for tests and runs that never suspend.
type memStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemory() Store {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Put(key string, val []byte) error {
	cp := make([]byte, len(val))
	copy(cp, val)
	s.mu.Lock()
	s.m[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Mark(errors.Newf("key %q", key), ErrNotFound)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }
