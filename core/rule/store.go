package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store provides read access to routing rules. The engine never mutates
// rules; it consumes snapshots produced by the external rule-management API.
type Store interface {
	// Get returns the rule with the given ID, or ErrRuleNotFound.
	Get(ctx context.Context, id string) (*Rule, error)

	// List returns a snapshot of all rules, ordered by ID.
	List(ctx context.Context) ([]Rule, error)
}

// MemoryStore is an in-memory Store implementation. It doubles as the
// derived rule cache in front of whatever persistent store the host
// application uses, and as the test double for everything consuming Store.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewMemoryStore creates an empty in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]Rule)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return &r, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores or replaces a rule. Validation is the caller's concern; the
// store is pure storage.
func (s *MemoryStore) Put(r Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

// Delete removes a rule. Deleting an absent rule is a no-op.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
}
