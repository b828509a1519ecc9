package captoken

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// ManifestLookup is the narrow view of pkg/manifeststore the token store
// needs: whether a manifest is active, and what it has requested.
type ManifestLookup interface {
	Get(orgID, manifestID string) (*domain.Manifest, error)
}

// Store is the capability-token store (spec §4.I): issuance, revocation,
// and bulk-revoke-by-agent.
type Store interface {
	Insert(t *domain.CapabilityToken) error
	Get(orgID, id string) (*domain.CapabilityToken, error)
	GetByTokenID(orgID, tokenID string) (*domain.CapabilityToken, error)
	List(orgID string) ([]*domain.CapabilityToken, error)
	Update(t *domain.CapabilityToken) error
	RevokeAllForAgent(orgID, agentID string) (int, error)
	IncrementActionsUsed(orgID, id string) error
}

// IssueParams is the request shape for issuing a new capability token.
type IssueParams struct {
	OrgID        string
	AgentID      string
	ManifestID   string
	Capabilities []string
	ExpiresIn    time.Duration
	IssuedBy     string
	Constraints  domain.TokenConstraints
	MaxActions   *int
}

// Issuer ties the token store, manifest lookup, and signing codec together
// to enforce spec §4.I's issuance checks.
type Issuer struct {
	store    Store
	manifest ManifestLookup
	codec    *Codec
	mu       sync.Mutex
}

func NewIssuer(store Store, manifest ManifestLookup, codec *Codec) *Issuer {
	return &Issuer{store: store, manifest: manifest, codec: codec}
}

// Issue validates the manifest-active and capability-subset invariants,
// persists the token row, and returns the signed token string (returned to
// the caller exactly once; the row keeps its token_id, not the signed string).
func (iss *Issuer) Issue(p IssueParams) (string, *domain.CapabilityToken, error) {
	iss.mu.Lock()
	defer iss.mu.Unlock()

	var manifest *domain.Manifest
	if p.ManifestID != "" {
		m, err := iss.manifest.Get(p.OrgID, p.ManifestID)
		if err != nil {
			return "", nil, gwerr.Wrap(gwerr.State, gwerr.CodeManifestNotFound, "manifest lookup failed", err)
		}
		if m == nil {
			return "", nil, gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "manifest does not exist")
		}
		if m.Status != domain.ManifestActive {
			return "", nil, gwerr.New(gwerr.State, gwerr.CodeManifestNotActive,
				fmt.Sprintf("manifest is %q, not active", m.Status))
		}
		if !capabilitiesSubset(p.Capabilities, m.ManifestJSON.Capabilities.Requested) {
			return "", nil, gwerr.New(gwerr.Validation, gwerr.CodeActionNotInCapabilities,
				"requested capabilities are not a subset of the manifest's declared capabilities")
		}
		manifest = m
	}

	now := time.Now().UTC()
	tokenID := "cap-" + strings.ReplaceAll(uuid.New().String(), "-", "")
	row := &domain.CapabilityToken{
		ID:           uuid.New().String(),
		TokenID:      tokenID,
		OrgID:        p.OrgID,
		AgentID:      p.AgentID,
		Capabilities: p.Capabilities,
		IssuedAt:     now,
		ExpiresAt:    now.Add(p.ExpiresIn),
		IssuedBy:     p.IssuedBy,
		Constraints:  p.Constraints,
		MaxActions:   p.MaxActions,
	}
	if manifest != nil {
		row.ManifestID = manifest.ID
	}

	if err := iss.store.Insert(row); err != nil {
		return "", nil, fmt.Errorf("captoken: insert token row: %w", err)
	}

	var constraint *TokenConstraint
	if p.MaxActions != nil || p.Constraints.AmountMax != nil {
		constraint = &TokenConstraint{
			AmountMax:         p.Constraints.AmountMax,
			Jurisdictions:     p.Constraints.Jurisdictions,
			CounterpartyAllow: p.Constraints.CounterpartyAllow,
			CounterpartyDeny:  p.Constraints.CounterpartyDeny,
			MaxActions:        p.MaxActions,
		}
	}
	tokenString, err := iss.codec.IssueCapability(IssueCapabilityParams{
		TokenID: tokenID, AgentID: p.AgentID, OrgID: p.OrgID,
		Capabilities: p.Capabilities, ExpiresAt: row.ExpiresAt, Constraints: constraint,
		UAPKID: manifestUAPKID(manifest),
	})
	if err != nil {
		return "", nil, fmt.Errorf("captoken: sign token: %w", err)
	}

	return tokenString, row, nil
}

func manifestUAPKID(m *domain.Manifest) string {
	if m == nil {
		return ""
	}
	return m.UAPKID
}

// capabilitiesSubset reports whether every requested capability is covered
// by at least one glob-capable manifest.capabilities.requested entry
// (invariant 5: "capabilities ⊆ (manifest it references).capabilities.requested").
func capabilitiesSubset(requested, declared []string) bool {
	for _, want := range requested {
		covered := false
		for _, grant := range declared {
			if globCapabilityMatch(grant, want) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

func globCapabilityMatch(grant, want string) bool {
	gParts := strings.SplitN(grant, ":", 2)
	wParts := strings.SplitN(want, ":", 2)
	if len(gParts) != 2 || len(wParts) != 2 {
		return grant == want
	}
	domainOK, _ := filepath.Match(gParts[0], wParts[0])
	opOK, _ := filepath.Match(gParts[1], wParts[1])
	return domainOK && opOK
}

// Revoke marks a single token revoked.
func (iss *Issuer) Revoke(orgID, id, reason string) error {
	tok, err := iss.store.Get(orgID, id)
	if err != nil {
		return err
	}
	if tok == nil {
		return gwerr.New(gwerr.State, gwerr.CodeTokenInvalid, "token not found")
	}
	if tok.Revoked {
		return gwerr.New(gwerr.State, gwerr.CodeWrongState, "token already revoked")
	}
	now := time.Now().UTC()
	tok.Revoked = true
	tok.RevokedAt = &now
	tok.RevokedReason = reason
	return iss.store.Update(tok)
}

// RevokeAllForAgent bulk-revokes every live token for an agent in one
// transaction. Per the resolved Open Question, this writes no audit entry —
// only the count of revoked tokens is returned.
func (iss *Issuer) RevokeAllForAgent(orgID, agentID string) (int, error) {
	return iss.store.RevokeAllForAgent(orgID, agentID)
}

// MemoryStore is an in-process Store, used by tests and demo mode.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*domain.CapabilityToken // keyed by ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*domain.CapabilityToken)}
}

func (s *MemoryStore) Insert(t *domain.CapabilityToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(orgID, id string) (*domain.CapabilityToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok || t.OrgID != orgID {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetByTokenID(orgID, tokenID string) (*domain.CapabilityToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.OrgID == orgID && t.TokenID == tokenID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) List(orgID string) ([]*domain.CapabilityToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.CapabilityToken, 0)
	for _, t := range s.tokens {
		if t.OrgID == orgID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(t *domain.CapabilityToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; !ok {
		return fmt.Errorf("captoken: token %s not found", t.ID)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

// IncrementActionsUsed atomically bumps actions_used for a valid token.
// Enforces invariant 6: actions_used never exceeds max_actions.
func (s *MemoryStore) IncrementActionsUsed(orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.OrgID != orgID {
		return fmt.Errorf("captoken: token %s not found", id)
	}
	if t.MaxActions != nil && t.ActionsUsed >= *t.MaxActions {
		return gwerr.New(gwerr.State, gwerr.CodeWrongState, "actions_used already at max_actions")
	}
	t.ActionsUsed++
	return nil
}

func (s *MemoryStore) RevokeAllForAgent(orgID, agentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, t := range s.tokens {
		if t.OrgID == orgID && t.AgentID == agentID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			t.RevokedReason = "bulk_revoke_by_agent"
			count++
		}
	}
	return count, nil
}
