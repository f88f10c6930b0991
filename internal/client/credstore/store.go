// Package credstore holds the client's current access token and keeps it
// persisted across restarts.
package credstore

import "sync"

// Store is the single owner of the access token. It is safe for concurrent
// use; the zero value is not, use New or Open.
type Store struct {
	mu        sync.RWMutex
	token     string
	persister Persister
}

// New returns an empty store backed by p. A nil p keeps the token in
// memory only.
func New(p Persister) *Store {
	if p == nil {
		p = &MemoryPersister{}
	}
	return &Store{persister: p}
}

// Open returns a store rehydrated from p.
func Open(p Persister) (*Store, error) {
	s := New(p)
	token, err := s.persister.Load()
	if err != nil {
		return nil, err
	}
	s.token = token
	return s, nil
}

// Get returns the current token or "".
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Set replaces the token and persists it. The in-memory value is updated
// even when persisting fails.
func (s *Store) Set(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return s.persister.Save(token)
}

// Clear removes the token.
func (s *Store) Clear() error {
	return s.Set("")
}
