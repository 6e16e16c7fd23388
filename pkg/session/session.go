// Package session tracks the most recent successful login of the process.
// It is a single slot, not a session store: the last login wins.
package session

import "sync"

type State struct {
	mu    sync.RWMutex
	owner *string
}

func New() *State {
	return &State{}
}

// RecordLogin makes username the current owner.
func (s *State) RecordLogin(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = &username
}

// CurrentOwner returns the user of the most recent login, if any.
func (s *State) CurrentOwner() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owner == nil {
		return "", false
	}
	return *s.owner, true
}
