package cert

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists certificate material keyed by an opaque ID. Pure storage:
// no protocol logic lives here.
type Store interface {
	// Get returns the certificate with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Certificate, error)

	// GetByDomain returns the certificate covering the given domain, or ErrNotFound.
	GetByDomain(ctx context.Context, domain string) (*Certificate, error)

	// List returns all stored certificates ordered by domain.
	List(ctx context.Context) ([]Certificate, error)

	// Save inserts the certificate or, when the ID already exists, replaces
	// its content in place. The ID itself is never rewritten.
	Save(ctx context.Context, c *Certificate) error

	// Delete removes the certificate. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store used in tests and as a write-through
// cache in front of a persistent store.
type MemoryStore struct {
	mu    sync.RWMutex
	certs map[string]Certificate
}

// NewMemoryStore creates an empty in-memory certificate store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{certs: make(map[string]Certificate)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.certs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &c, nil
}

func (s *MemoryStore) GetByDomain(ctx context.Context, domain string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.certs {
		if c.Domain == domain {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: domain %s", ErrNotFound, domain)
}

func (s *MemoryStore) List(ctx context.Context) ([]Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Certificate, 0, len(s.certs))
	for _, c := range s.certs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (s *MemoryStore) Save(ctx context.Context, c *Certificate) error {
	if c.ID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[c.ID] = *c
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.certs, id)
	return nil
}
