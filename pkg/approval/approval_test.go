package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/identity"
)

func newService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	codec := captoken.NewCodec(ks)
	store := NewMemoryStore()
	return NewService(store, codec), store
}

func testAction() map[string]interface{} {
	return map[string]interface{}{"action": "payment:send", "parameters": map[string]interface{}{"amount": 500}}
}

func TestCreate_StartsPending(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.Create(CreateParams{
		OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1",
		Action: testAction(), ReasonCodes: []string{"AMOUNT_REQUIRES_APPROVAL"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, a.Status)
	assert.NotEmpty(t, a.ApprovalID)
}

func TestApprove_MintsOverrideTokenBoundToActionHash(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	require.NoError(t, err)

	result, err := svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.OverrideToken)
	assert.Equal(t, domain.ApprovalApproved, result.Approval.Status)
	assert.NotEmpty(t, result.Approval.OverrideTokenHash)
	assert.NotEqual(t, result.OverrideToken, result.Approval.OverrideTokenHash, "only the hash is persisted")
}

func TestApprove_RejectsNonPendingApproval(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	require.NoError(t, err)
	_, err = svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	require.NoError(t, err)

	_, err = svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	assert.Error(t, err)
}

func TestDeny_TransitionsTerminally(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	require.NoError(t, err)

	denied, err := svc.Deny(DenyParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1", Reason: "suspicious counterparty"})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalDenied, denied.Status)

	_, err = svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	assert.Error(t, err, "a denied approval cannot later be approved")
}

func TestRedeem_SucceedsForMatchingActionOnce(t *testing.T) {
	svc, _ := newService(t)
	action := testAction()
	a, err := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: action})
	require.NoError(t, err)
	result, err := svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	require.NoError(t, err)

	claims, err := svc.Redeem(RedeemParams{OrgID: "org1", TokenString: result.OverrideToken, InboundAction: action})
	require.NoError(t, err)
	assert.Equal(t, a.ApprovalID, claims.ApprovalID)

	_, err = svc.Redeem(RedeemParams{OrgID: "org1", TokenString: result.OverrideToken, InboundAction: action})
	assert.ErrorContains(t, err, "OVERRIDE_TOKEN_REUSED")
}

func TestRedeem_RejectsMismatchedAction(t *testing.T) {
	svc, _ := newService(t)
	a, err := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	require.NoError(t, err)
	result, err := svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	require.NoError(t, err)

	differentAction := map[string]interface{}{"action": "payment:send", "parameters": map[string]interface{}{"amount": 999999}}
	_, err = svc.Redeem(RedeemParams{OrgID: "org1", TokenString: result.OverrideToken, InboundAction: differentAction})
	assert.ErrorContains(t, err, "OVERRIDE_TOKEN_ACTION_MISMATCH")
}

func TestLoadPendingLocked_ExpiresOldApprovals(t *testing.T) {
	svc, store := newService(t)
	a, err := svc.Create(CreateParams{
		OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction(), TTL: time.Millisecond,
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a.ApprovalID, UserID: "user-1"})
	assert.Error(t, err)

	stored, err := store.Get("org1", a.ApprovalID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalExpired, stored.Status)
}

func TestStats_CountsByStatus(t *testing.T) {
	svc, _ := newService(t)
	a1, _ := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	a2, _ := svc.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", AgentID: "agent-1", Action: testAction()})
	_, _ = svc.Approve(ApproveParams{OrgID: "org1", ApprovalID: a1.ApprovalID, UserID: "u"})
	_, _ = svc.Deny(DenyParams{OrgID: "org1", ApprovalID: a2.ApprovalID, UserID: "u"})

	stats, err := svc.Stats("org1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Denied)
	assert.Equal(t, 2, stats.Total)
}
