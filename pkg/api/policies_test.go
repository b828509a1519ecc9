package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/auth"
	"github.com/amakua/uapk-gateway/pkg/domain"
)

// fakePolicyAdminStore is an in-memory PolicyAdminStore for exercising the
// policy handlers without pkg/pgstore/pkg/sqlitestore.
type fakePolicyAdminStore struct {
	byID map[string]*domain.Policy
}

func newFakePolicyAdminStore() *fakePolicyAdminStore {
	return &fakePolicyAdminStore{byID: map[string]*domain.Policy{}}
}

func (s *fakePolicyAdminStore) Insert(p *domain.Policy) error {
	s.byID[p.ID] = p
	return nil
}

func (s *fakePolicyAdminStore) Get(orgID, id string) (*domain.Policy, error) {
	p, ok := s.byID[id]
	if !ok || p.OrgID != orgID {
		return nil, nil
	}
	return p, nil
}

func (s *fakePolicyAdminStore) ListEnabled(orgID string) ([]*domain.Policy, error) {
	var out []*domain.Policy
	for _, p := range s.byID {
		if p.OrgID == orgID && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePolicyAdminStore) Update(p *domain.Policy) error {
	s.byID[p.ID] = p
	return nil
}

func (s *fakePolicyAdminStore) Delete(orgID, id string) error {
	delete(s.byID, id)
	return nil
}

func TestHandleCreatePolicy(t *testing.T) {
	store := newFakePolicyAdminStore()
	handler := HandleCreatePolicy(store)

	body := policyBody{Name: "block-large-transfers", PolicyType: domain.PolicyDeny, Enabled: true}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orgs/org-1/policies", bytes.NewReader(payload))
	req.SetPathValue("orgID", "org-1")
	req = withSessionPrincipal(req, auth.Principal{UserID: "u1", OrgID: "org-1", Role: auth.RoleAdmin})
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got domain.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "block-large-transfers", got.Name)
	assert.Equal(t, "org-1", got.OrgID)
}

func TestHandleListPolicies_OnlyEnabled(t *testing.T) {
	store := newFakePolicyAdminStore()
	store.Insert(&domain.Policy{ID: "p1", OrgID: "org-1", Name: "enabled", Enabled: true})
	store.Insert(&domain.Policy{ID: "p2", OrgID: "org-1", Name: "disabled", Enabled: false})

	handler := HandleListPolicies(store)
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/policies", nil)
	req.SetPathValue("orgID", "org-1")
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var policies []*domain.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &policies))
	assert.Len(t, policies, 1)
	assert.Equal(t, "enabled", policies[0].Name)
}

func TestHandleGetPolicy_NotFound(t *testing.T) {
	store := newFakePolicyAdminStore()
	handler := HandleGetPolicy(store)

	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/policies/missing", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("policyID", "missing")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlePatchPolicy(t *testing.T) {
	store := newFakePolicyAdminStore()
	store.Insert(&domain.Policy{ID: "p1", OrgID: "org-1", Name: "old-name", Enabled: true})

	handler := HandlePatchPolicy(store)
	body := policyBody{Name: "new-name", Enabled: false}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPatch, "/orgs/org-1/policies/p1", bytes.NewReader(payload))
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("policyID", "p1")
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "new-name", got.Name)
	assert.False(t, got.Enabled)
}

func TestHandleDeletePolicy(t *testing.T) {
	store := newFakePolicyAdminStore()
	store.Insert(&domain.Policy{ID: "p1", OrgID: "org-1"})

	handler := HandleDeletePolicy(store)
	req := httptest.NewRequest(http.MethodDelete, "/orgs/org-1/policies/p1", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("policyID", "p1")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	got, _ := store.Get("org-1", "p1")
	assert.Nil(t, got)
}
