package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/gwerr"
)

func TestCapabilityGate(t *testing.T) {
	req := Request{ActionType: "email", Tool: "send"}

	check, err := CapabilityGate(req, []string{"email:*"})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckPass, check.Result)

	_, err = CapabilityGate(req, []string{"payment:transfer"})
	require.Error(t, err)
	var de *gwerr.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, gwerr.CodeActionNotInCapabilities, de.Code)
}

func TestEvaluate_FirstDenyShortCircuits(t *testing.T) {
	amountCap, amount := 100.0, 500.0
	store := NewMemoryStore()
	store.Add(&domain.Policy{
		OrgID: "org1", Name: "block-payment", PolicyType: domain.PolicyDeny,
		Scope: domain.ScopeAction, Priority: 100, Enabled: true,
		Rules:     domain.PolicyRules{ActionPattern: "payment:*", AmountCaps: &amountCap},
		CreatedAt: time.Now(),
	})
	store.Add(&domain.Policy{
		OrgID: "org1", Name: "require-approval-all", PolicyType: domain.PolicyRequireApproval,
		Scope: domain.ScopeGlobal, Priority: 0, Enabled: true,
		CreatedAt: time.Now(),
	})

	e := NewEngine(store)
	res, err := e.Evaluate("org1", Request{ActionType: "payment", Tool: "transfer", AmountValue: &amount})
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyDeny, res.Decision)
	assert.Len(t, res.Checks, 1, "deny short-circuits before the second policy runs")
}

func TestEvaluate_RequireApprovalWhenNoDeny(t *testing.T) {
	amountCap, amount := 100.0, 500.0
	store := NewMemoryStore()
	store.Add(&domain.Policy{
		OrgID: "org1", Name: "approve-payments", PolicyType: domain.PolicyRequireApproval,
		Scope: domain.ScopeAction, Priority: 0, Enabled: true,
		Rules:     domain.PolicyRules{ActionPattern: "payment:*", AmountCaps: &amountCap},
		CreatedAt: time.Now(),
	})

	e := NewEngine(store)
	res, err := e.Evaluate("org1", Request{ActionType: "payment", Tool: "transfer", AmountValue: &amount})
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyRequireApproval, res.Decision)
}

func TestEvaluate_PriorityDescendingOrder(t *testing.T) {
	store := NewMemoryStore()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	store.Add(&domain.Policy{
		OrgID: "org1", Name: "low-priority", PolicyType: domain.PolicyRequireApproval,
		Scope: domain.ScopeGlobal, Priority: -10, Enabled: true, CreatedAt: newer,
	})
	store.Add(&domain.Policy{
		OrgID: "org1", Name: "high-priority", PolicyType: domain.PolicyAllow,
		Scope: domain.ScopeGlobal, Priority: 500, Enabled: true, CreatedAt: older,
	})

	e := NewEngine(store)
	res, err := e.Evaluate("org1", Request{ActionType: "email", Tool: "send"})
	require.NoError(t, err)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, "high-priority", res.Checks[0].Check)
}

func TestEvaluate_AllowWhenNothingMatches(t *testing.T) {
	e := NewEngine(NewMemoryStore())
	res, err := e.Evaluate("org1", Request{ActionType: "email", Tool: "send"})
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyAllow, res.Decision)
}

func TestCapabilityMatches_GlobInBothHalves(t *testing.T) {
	assert.True(t, capabilityMatches("*:*", "anything:goes"))
	assert.True(t, capabilityMatches("file:*", "file:read"))
	assert.False(t, capabilityMatches("file:read", "file:write"))
}
