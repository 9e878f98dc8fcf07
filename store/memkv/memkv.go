// Package memkv is an in-memory KV: a map guarded by a mutex, used for
// tests and as the default store backend.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/BlockscapeNetwork/nomic/store"
)

// Store is an in-process, non-persistent KV.
type Store struct {
	mu sync.RWMutex
	m  map[string][]byte
}

var _ store.KV = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{m: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Put(_ context.Context, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	s.m[string(key)] = buf
	return nil
}

func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(key))
	return nil
}

func (s *Store) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	s.mu.RLock()
	snapshot := make(map[string][]byte, len(s.m))
	p := string(prefix)
	for k, v := range s.m {
		if len(k) >= len(p) && k[:len(p)] == p {
			snapshot[k] = v
		}
	}
	s.mu.RUnlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cont, err := fn([]byte(k), snapshot[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
