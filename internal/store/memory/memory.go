// Package memory implements the credential store in process memory. Used by
// tests and local development; semantics mirror the PostgreSQL store
// (last-write-wins upsert, idempotent delete).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/inboxly/mailvault/internal/store"
)

// Store is a mutex-guarded map keyed by (principal, provider).
type Store struct {
	mu   sync.RWMutex
	recs map[string]*store.Credential
	now  func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		recs: make(map[string]*store.Credential),
		now:  time.Now,
	}
}

// NewWithClock creates a store with an injected time source. Tests only.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

func key(principalID, provider string) string {
	return principalID + "\x00" + provider
}

func clone(c *store.Credential) *store.Credential {
	out := *c
	out.GrantedScopes = append([]string(nil), c.GrantedScopes...)
	return &out
}

// Get implements store.CredentialStore.
func (s *Store) Get(_ context.Context, principalID, provider string) (*store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.recs[key(principalID, provider)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(c), nil
}

// Upsert implements store.CredentialStore.
func (s *Store) Upsert(_ context.Context, c *store.Credential) (*store.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := clone(c)
	stored.UpdatedAt = now
	if prev, ok := s.recs[key(c.PrincipalID, c.Provider)]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.recs[key(c.PrincipalID, c.Provider)] = stored
	return clone(stored), nil
}

// Delete implements store.CredentialStore. Idempotent.
func (s *Store) Delete(_ context.Context, principalID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key(principalID, provider))
	return nil
}

// Ping implements store.CredentialStore.
func (s *Store) Ping(context.Context) error { return nil }

// Len reports the number of stored credentials. Tests only.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
