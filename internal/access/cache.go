package access

import (
	"context"
	"sync"
)

// Store holds resolved per-user access sets. A missing entry means "not yet
// resolved"; an entry holding an empty set means "resolved, user may access
// nothing"; the two must stay distinguishable.
//
// Store errors are treated as cache misses by the manager (resolution falls
// through to the directory), mirroring how a flaky cache backend degrades
// rather than breaks access checks.
type Store interface {
	Get(ctx context.Context, user string) (names []string, ok bool, err error)
	Put(ctx context.Context, user string, names []string) error
	// Flush drops every entry. There is no per-entry invalidation.
	Flush(ctx context.Context) error
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string][]string)}
}

func (s *MemoryStore) Get(_ context.Context, user string) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names, ok := s.users[user]
	if !ok {
		return nil, false, nil
	}
	return append([]string{}, names...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, user string, names []string) error {
	cp := append([]string{}, names...)
	s.mu.Lock()
	s.users[user] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.mu.Lock()
	s.users = make(map[string][]string)
	s.mu.Unlock()
	return nil
}

// Len reports the number of cached users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
