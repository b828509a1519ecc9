// Package manifeststore implements the agent-manifest lifecycle (spec
// §4.H): pending → active ↔ suspended → revoked, with delete permitted
// only from pending. manifest_hash is computed once at create time from
// the canonicalized manifest_json and never mutated afterward.
package manifeststore

import (
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/canonicalize"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

// Store persists Manifest rows.
type Store interface {
	Insert(m *domain.Manifest) error
	Get(orgID, id string) (*domain.Manifest, error)
	GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error)
	List(orgID string) ([]*domain.Manifest, error)
	Update(m *domain.Manifest) error
	Delete(orgID, id string) error
}

// CreateParams is the request shape for declaring a new manifest.
type CreateParams struct {
	OrgID           string
	UAPKID          string
	Version         string
	Body            domain.ManifestBody
	Description     string
	CreatedByUserID string
}

// Registry enforces the manifest lifecycle state machine over a Store.
type Registry struct {
	store Store
	mu    sync.Mutex
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Create validates the declared semver version, computes manifest_hash from
// the canonicalized manifest_json, and inserts the manifest in state
// pending. Activation is a separate, explicit step (spec §4.H).
func (r *Registry) Create(p CreateParams) (*domain.Manifest, error) {
	if _, err := semver.NewVersion(p.Version); err != nil {
		return nil, gwerr.Wrap(gwerr.Validation, gwerr.CodeSchemaInvalid,
			fmt.Sprintf("manifest version %q is not valid semver", p.Version), err)
	}

	hash, err := canonicalize.CanonicalHash(p.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.Validation, gwerr.CodeSchemaInvalid,
			"failed to canonicalize manifest_json", err)
	}

	now := time.Now().UTC()
	m := &domain.Manifest{
		ID:              "mf-" + uuid.New().String(),
		OrgID:           p.OrgID,
		UAPKID:          p.UAPKID,
		Version:         p.Version,
		ManifestJSON:    p.Body,
		ManifestHash:    hash,
		Status:          domain.ManifestPending,
		Description:     p.Description,
		CreatedByUserID: p.CreatedByUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Insert(m); err != nil {
		return nil, err
	}
	return m, nil
}

// allowedTransitions enumerates the legal state machine edges (spec §4.H).
var allowedTransitions = map[domain.ManifestStatus]map[domain.ManifestStatus]bool{
	domain.ManifestPending:   {domain.ManifestActive: true},
	domain.ManifestActive:    {domain.ManifestSuspended: true, domain.ManifestRevoked: true},
	domain.ManifestSuspended: {domain.ManifestActive: true, domain.ManifestRevoked: true},
	domain.ManifestRevoked:   {},
}

func (r *Registry) transition(orgID, id string, to domain.ManifestStatus) (*domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.store.Get(orgID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "manifest not found")
	}
	if !allowedTransitions[m.Status][to] {
		return nil, gwerr.New(gwerr.Conflict, gwerr.CodeWrongState,
			fmt.Sprintf("cannot transition manifest from %s to %s", m.Status, to))
	}
	m.Status = to
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Activate is the only gate for token issuance (spec §4.H, §4.I).
func (r *Registry) Activate(orgID, id string) (*domain.Manifest, error) {
	return r.transition(orgID, id, domain.ManifestActive)
}

func (r *Registry) Suspend(orgID, id string) (*domain.Manifest, error) {
	return r.transition(orgID, id, domain.ManifestSuspended)
}

func (r *Registry) Revoke(orgID, id string) (*domain.Manifest, error) {
	return r.transition(orgID, id, domain.ManifestRevoked)
}

// UpdateDescription patches the mutable description field. manifest_json and
// manifest_hash are immutable after creation (spec §4.H) and have no setter.
func (r *Registry) UpdateDescription(orgID, id, description string) (*domain.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.store.Get(orgID, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "manifest not found")
	}
	m.Description = description
	m.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete is permitted only while the manifest is still pending.
func (r *Registry) Delete(orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, err := r.store.Get(orgID, id)
	if err != nil {
		return err
	}
	if m == nil {
		return gwerr.New(gwerr.State, gwerr.CodeManifestNotFound, "manifest not found")
	}
	if m.Status != domain.ManifestPending {
		return gwerr.New(gwerr.Conflict, gwerr.CodeWrongState,
			"manifest can only be deleted while pending")
	}
	return r.store.Delete(orgID, id)
}

// Get satisfies the narrow ManifestLookup interfaces pkg/captoken and
// pkg/audit depend on, without importing this package's Store type.
func (r *Registry) Get(orgID, id string) (*domain.Manifest, error) {
	return r.store.Get(orgID, id)
}

func (r *Registry) GetByUAPKID(orgID, uapkID string) (*domain.Manifest, error) {
	return r.store.GetByUAPKID(orgID, uapkID)
}

func (r *Registry) List(orgID string) ([]*domain.Manifest, error) {
	return r.store.List(orgID)
}
