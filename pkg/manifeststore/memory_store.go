package manifeststore

import (
	"sync"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// MemoryStore is an in-process Store, used by tests and demo mode.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]*domain.Manifest // keyed by ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{manifests: make(map[string]*domain.Manifest)}
}

func (s *MemoryStore) Insert(m *domain.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.manifests[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(orgID, id string) (*domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[id]
	if !ok || m.OrgID != orgID {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.Manifest
	for _, m := range s.manifests {
		if m.OrgID != orgID || m.UAPKID != uapkID {
			continue
		}
		if latest == nil || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) List(orgID string) ([]*domain.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Manifest, 0)
	for _, m := range s.manifests {
		if m.OrgID == orgID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(m *domain.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.manifests[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.manifests[id]; ok && m.OrgID == orgID {
		delete(s.manifests, id)
	}
	return nil
}
