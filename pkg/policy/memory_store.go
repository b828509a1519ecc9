package policy

import (
	"sync"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// MemoryStore is a trivial in-process Store, used by tests and the
// single-node demo mode; pkg/pgstore provides the production backend.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string][]*domain.Policy // orgID -> policies
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string][]*domain.Policy)}
}

func (s *MemoryStore) Add(p *domain.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.OrgID] = append(s.policies[p.OrgID], p)
}

func (s *MemoryStore) ListEnabled(orgID string) ([]*domain.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Policy, 0)
	for _, p := range s.policies[orgID] {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) All(orgID string) []*domain.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Policy, len(s.policies[orgID]))
	copy(out, s.policies[orgID])
	return out
}
