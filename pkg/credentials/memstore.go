package credentials

import (
	"context"
	"sync"
)

type memoryStore struct {
	lock  sync.RWMutex
	store map[string][]Credential
}

// NewMemoryStore returns a Store holding creds.
func NewMemoryStore(creds ...Credential) *memoryStore {
	s := &memoryStore{
		store: make(map[string][]Credential),
	}
	s.Add(creds...)
	return s
}

func (s *memoryStore) Add(creds ...Credential) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, c := range creds {
		s.store[c.Username] = append(s.store[c.Username], c)
	}
}

func (s *memoryStore) FindByUsername(_ context.Context, username string) ([]Credential, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	records := s.store[username]
	out := make([]Credential, len(records))
	copy(out, records)
	return out, nil
}
