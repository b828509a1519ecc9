package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

// MemoryStore is an in-process Store, used by tests and demo mode. It
// serializes Insert with a single mutex, which is sufficient to guarantee
// per-chain previous_record_hash continuity in a single process; a
// Postgres-backed Store would instead take a row lock per (org_id, uapk_id).
type MemoryStore struct {
	mu      sync.RWMutex
	records []*domain.InteractionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(r *domain.InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryStore) LastForChain(orgID, uapkID string) (*domain.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *domain.InteractionRecord
	for _, r := range s.records {
		if r.OrgID != orgID || r.UAPKID != uapkID {
			continue
		}
		if last == nil || r.CreatedAt.After(last.CreatedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *MemoryStore) ListChain(orgID, uapkID string, from, to *time.Time) ([]*domain.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.InteractionRecord, 0)
	for _, r := range s.records {
		if r.OrgID != orgID || r.UAPKID != uapkID {
			continue
		}
		if !withinRange(r.CreatedAt, from, to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Get(orgID, recordID string) (*domain.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.OrgID == orgID && r.RecordID == recordID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListOrg(orgID string, from, to *time.Time) ([]*domain.InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.InteractionRecord, 0)
	for _, r := range s.records {
		if r.OrgID != orgID || !withinRange(r.CreatedAt, from, to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func withinRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
