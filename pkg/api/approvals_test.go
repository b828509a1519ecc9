package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/auth"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/identity"
)

func newTestApprovalService(t *testing.T) (*approval.Service, *approval.MemoryStore) {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	store := approval.NewMemoryStore()
	return approval.NewService(store, captoken.NewCodec(ks)), store
}

func seedPendingApproval(t *testing.T, svc *approval.Service, orgID string) string {
	t.Helper()
	a, err := svc.Create(approval.CreateParams{
		OrgID: orgID, UAPKID: "uapk-1", AgentID: "agent-1",
		Action: map[string]interface{}{"action_type": "payment.transfer"},
	})
	require.NoError(t, err)
	return a.ID
}

func TestHandleListApprovals(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	seedPendingApproval(t, svc, "org-1")

	handler := HandleListApprovals(svc)
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/approvals", nil)
	req.SetPathValue("orgID", "org-1")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "uapk-1")
}

func TestHandleListPendingApprovals(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	seedPendingApproval(t, svc, "org-1")

	handler := HandleListPendingApprovals(svc)
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/approvals/pending", nil)
	req.SetPathValue("orgID", "org-1")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleApprovalStats(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	seedPendingApproval(t, svc, "org-1")

	handler := HandleApprovalStats(svc)
	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/approvals/stats", nil)
	req.SetPathValue("orgID", "org-1")
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pending":1`)
}

func TestHandleGetApproval_NotFound(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	handler := HandleGetApproval(svc)

	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/approvals/missing", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("approvalID", "missing")
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleApproveApproval(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	id := seedPendingApproval(t, svc, "org-1")

	handler := HandleApproveApproval(svc)
	req := httptest.NewRequest(http.MethodPost, "/orgs/org-1/approvals/"+id+"/approve", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("approvalID", id)
	req = withSessionPrincipal(req, auth.Principal{UserID: "admin-1", OrgID: "org-1", Role: auth.RoleAdmin})
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "override_token")
}

func TestHandleApproveApproval_NoPrincipal(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	id := seedPendingApproval(t, svc, "org-1")

	handler := HandleApproveApproval(svc)
	req := httptest.NewRequest(http.MethodPost, "/orgs/org-1/approvals/"+id+"/approve", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("approvalID", id)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleDenyApproval(t *testing.T) {
	svc, _ := newTestApprovalService(t)
	id := seedPendingApproval(t, svc, "org-1")

	handler := HandleDenyApproval(svc)
	req := httptest.NewRequest(http.MethodPost, "/orgs/org-1/approvals/"+id+"/deny", nil)
	req.SetPathValue("orgID", "org-1")
	req.SetPathValue("approvalID", id)
	req = withSessionPrincipal(req, auth.Principal{UserID: "admin-1", OrgID: "org-1", Role: auth.RoleAdmin})
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"denied"`)
}
