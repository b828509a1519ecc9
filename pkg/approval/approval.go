// Package approval implements the human-in-the-loop approval store and
// override-token issuer (spec §4.J): a policy evaluation that returns
// require_approval creates a pending Approval; an operator's decision
// transitions it terminally, and approval mints a short-lived, single-use
// override token bound to the specific action by hash.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/canonicalize"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// Store persists Approval rows and used-override-token markers.
type Store interface {
	Insert(a *domain.Approval) error
	Get(orgID, approvalID string) (*domain.Approval, error)
	List(orgID string, statusFilter domain.ApprovalStatus, uapkID string, limit, offset int) ([]*domain.Approval, int, error)
	Update(a *domain.Approval) error
	Stats(orgID string) (Stats, error)

	// InsertUsedToken must fail with gwerr.CodeOverrideTokenReused when
	// tokenHash already exists — the primary-key constraint spec §4.J
	// relies on for single-use semantics.
	InsertUsedToken(t *domain.UsedOverrideToken) error
}

// Stats mirrors the original dashboard's per-status counts (spec §4.J).
type Stats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Expired  int `json:"expired"`
	Total    int `json:"total"`
}

// Service ties the approval store to the capability-token codec for minting
// and redeeming override tokens.
type Service struct {
	store Store
	codec *captoken.Codec
	mu    sync.Mutex
}

func NewService(store Store, codec *captoken.Codec) *Service {
	return &Service{store: store, codec: codec}
}

// CreateParams is the request shape for escalating an action to a human.
type CreateParams struct {
	OrgID         string
	InteractionID string
	UAPKID        string
	AgentID       string
	Action        map[string]interface{}
	Counterparty  string
	Context       map[string]interface{}
	ReasonCodes   []string
	TTL           time.Duration // 0 means no expiry
}

// Create records a pending approval for a policy decision of require_approval.
func (s *Service) Create(p CreateParams) (*domain.Approval, error) {
	now := time.Now().UTC()
	a := &domain.Approval{
		ID:            uuid.New().String(),
		ApprovalID:    "appr-" + uuid.New().String(),
		OrgID:         p.OrgID,
		InteractionID: p.InteractionID,
		UAPKID:        p.UAPKID,
		AgentID:       p.AgentID,
		Action:        p.Action,
		Counterparty:  p.Counterparty,
		Context:       p.Context,
		ReasonCodes:   p.ReasonCodes,
		Status:        domain.ApprovalPending,
		CreatedAt:     now,
	}
	if p.TTL > 0 {
		exp := now.Add(p.TTL)
		a.ExpiresAt = &exp
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Insert(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ApproveParams carries the operator's approve decision.
type ApproveParams struct {
	OrgID                  string
	ApprovalID             string
	UserID                 string
	Notes                  string
	OverrideTokenExpiresIn time.Duration // 0 defaults to 300s; outside [60s, 3600s] captoken.IssueOverride rejects it
}

// ApproveResult carries the one-time raw override token back to the caller.
type ApproveResult struct {
	Approval      *domain.Approval
	OverrideToken string
}

// Approve transitions a pending approval to approved, mints an override
// token bound to action_hash, and persists only the token's hash.
func (s *Service) Approve(p ApproveParams) (*ApproveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.loadPendingLocked(p.OrgID, p.ApprovalID)
	if err != nil {
		return nil, err
	}

	actionHash, err := canonicalize.CanonicalHash(a.Action)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Validation, gwerr.CodeSchemaInvalid, "failed to hash approval action", err)
	}

	expIn := p.OverrideTokenExpiresIn
	if expIn == 0 {
		expIn = 300 * time.Second
	}
	tokenID := uuid.New().String()
	tokenString, expiresAt, err := s.codec.IssueOverride(captoken.IssueOverrideParams{
		TokenID:    tokenID,
		OrgID:      a.OrgID,
		UAPKID:     a.UAPKID,
		AgentID:    a.AgentID,
		ActionHash: actionHash,
		ApprovalID: a.ApprovalID,
		ExpiresIn:  expIn,
	})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Crypto, gwerr.CodeTokenInvalid, "failed to issue override token", err)
	}

	now := time.Now().UTC()
	a.Status = domain.ApprovalApproved
	a.DecidedAt = &now
	a.DecidedBy = p.UserID
	a.DecisionNotes = p.Notes
	a.ActionHash = actionHash
	a.OverrideTokenHash = hashToken(tokenString)
	a.OverrideTokenExpiresAt = &expiresAt

	if err := s.store.Update(a); err != nil {
		return nil, err
	}
	return &ApproveResult{Approval: a, OverrideToken: tokenString}, nil
}

// DenyParams carries the operator's deny decision.
type DenyParams struct {
	OrgID      string
	ApprovalID string
	UserID     string
	Notes      string
	Reason     string
}

// Deny transitions a pending approval to denied. No token is minted.
func (s *Service) Deny(p DenyParams) (*domain.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.loadPendingLocked(p.OrgID, p.ApprovalID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a.Status = domain.ApprovalDenied
	a.DecidedAt = &now
	a.DecidedBy = p.UserID
	a.DecisionNotes = p.Notes
	if p.Reason != "" {
		a.ReasonCodes = append(a.ReasonCodes, p.Reason)
	}
	if err := s.store.Update(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) loadPendingLocked(orgID, approvalID string) (*domain.Approval, error) {
	a, err := s.store.Get(orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "approval not found")
	}
	now := time.Now().UTC()
	if a.IsExpired(now) {
		a.Status = domain.ApprovalExpired
		_ = s.store.Update(a)
		return nil, gwerr.New(gwerr.Conflict, gwerr.CodeWrongState, "approval has expired")
	}
	if a.Status != domain.ApprovalPending {
		return nil, gwerr.New(gwerr.Conflict, gwerr.CodeWrongState,
			fmt.Sprintf("approval is %s, not pending", a.Status))
	}
	return a, nil
}

// Get returns one approval by ID, auto-expiring it first if its TTL lapsed.
func (s *Service) Get(orgID, approvalID string) (*domain.Approval, error) {
	a, err := s.store.Get(orgID, approvalID)
	if err != nil || a == nil {
		return a, err
	}
	if a.IsExpired(time.Now().UTC()) {
		a.Status = domain.ApprovalExpired
		_ = s.store.Update(a)
	}
	return a, nil
}

// List returns a page of approvals, optionally filtered by status/uapk_id.
func (s *Service) List(orgID string, statusFilter domain.ApprovalStatus, uapkID string, limit, offset int) ([]*domain.Approval, int, error) {
	return s.store.List(orgID, statusFilter, uapkID, limit, offset)
}

// Stats returns per-status approval counts for the organization.
func (s *Service) Stats(orgID string) (Stats, error) {
	return s.store.Stats(orgID)
}

// RedeemParams is the inbound action the override token is checked against,
// per spec §4.J's "Override redemption at admission time".
type RedeemParams struct {
	OrgID         string
	TokenString   string
	InboundAction map[string]interface{}
}

// Redeem verifies an override token's signature and type, recomputes
// action_hash from the *new* inbound action and compares it to the token's
// claim, then atomically marks the token used. A double-use fails on the
// UsedOverrideToken primary-key constraint and reports OVERRIDE_TOKEN_REUSED.
func (s *Service) Redeem(p RedeemParams) (*captoken.Claims, error) {
	claims, err := s.codec.Verify(p.TokenString, captoken.KindOverride)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Authentication, gwerr.CodeTokenInvalid, "override token invalid", err)
	}
	if claims.OrgID != p.OrgID {
		return nil, gwerr.New(gwerr.Authorization, gwerr.CodeOrgMismatch, "override token org mismatch")
	}

	inboundHash, err := canonicalize.CanonicalHash(p.InboundAction)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Validation, gwerr.CodeSchemaInvalid, "failed to hash inbound action", err)
	}
	if inboundHash != claims.ActionHash {
		return nil, gwerr.New(gwerr.Authorization, gwerr.CodeOverrideTokenMismatch,
			"override token does not match the action it is being redeemed against")
	}

	tokenHash := hashToken(p.TokenString)
	used := &domain.UsedOverrideToken{
		TokenHash:  tokenHash,
		OrgID:      p.OrgID,
		ApprovalID: claims.ApprovalID,
		ActionHash: inboundHash,
		UsedAt:     time.Now().UTC(),
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if err := s.store.InsertUsedToken(used); err != nil {
		return nil, err
	}
	return claims, nil
}

// LinkInteraction records which sealed InteractionRecord resulted from this
// approval — the escalation's record when it was first created pending, or
// the dispatch record produced once an override redeems it (spec §4.K step
// 3, "bind the resulting record back to the approval").
func (s *Service) LinkInteraction(orgID, approvalID, interactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.store.Get(orgID, approvalID)
	if err != nil {
		return err
	}
	if a == nil {
		return gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "approval not found")
	}
	a.InteractionID = interactionID
	return s.store.Update(a)
}

func hashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
