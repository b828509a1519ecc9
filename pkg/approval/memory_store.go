package approval

import (
	"sort"
	"sync"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// MemoryStore is an in-process Store, used by tests and demo mode.
type MemoryStore struct {
	mu         sync.Mutex
	approvals  map[string]*domain.Approval           // keyed by approval_id
	usedTokens map[string]*domain.UsedOverrideToken // keyed by token_hash
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		approvals:  make(map[string]*domain.Approval),
		usedTokens: make(map[string]*domain.UsedOverrideToken),
	}
}

func (s *MemoryStore) Insert(a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.ApprovalID] = &cp
	return nil
}

func (s *MemoryStore) Get(orgID, approvalID string) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[approvalID]
	if !ok || a.OrgID != orgID {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) List(orgID string, statusFilter domain.ApprovalStatus, uapkID string, limit, offset int) ([]*domain.Approval, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*domain.Approval, 0)
	for _, a := range s.approvals {
		if a.OrgID != orgID {
			continue
		}
		if statusFilter != "" && a.Status != statusFilter {
			continue
		}
		if uapkID != "" && a.UAPKID != uapkID {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })

	total := len(matched)
	if offset >= total {
		return []*domain.Approval{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) Update(a *domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[a.ApprovalID] = &cp
	return nil
}

func (s *MemoryStore) Stats(orgID string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st Stats
	for _, a := range s.approvals {
		if a.OrgID != orgID {
			continue
		}
		st.Total++
		switch a.Status {
		case domain.ApprovalPending:
			st.Pending++
		case domain.ApprovalApproved:
			st.Approved++
		case domain.ApprovalDenied:
			st.Denied++
		case domain.ApprovalExpired:
			st.Expired++
		}
	}
	return st, nil
}

func (s *MemoryStore) InsertUsedToken(t *domain.UsedOverrideToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usedTokens[t.TokenHash]; exists {
		return gwerr.New(gwerr.Conflict, gwerr.CodeOverrideTokenReused,
			"override token has already been redeemed")
	}
	cp := *t
	s.usedTokens[t.TokenHash] = &cp
	return nil
}
