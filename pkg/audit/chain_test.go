package audit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/crypto"
	"github.com/amakua/uapk-gateway/pkg/domain"
)

func newEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	signer, err := crypto.NewEd25519Signer("gw-test-1")
	require.NoError(t, err)
	ring := crypto.NewKeyRing()
	ring.AddKey(signer)
	store := NewMemoryStore()
	return NewEngine(store, ring), store
}

func TestSeal_FirstRecordHasNoPreviousHash(t *testing.T) {
	e, _ := newEngine(t)
	r, err := e.Seal(SealParams{
		OrgID: "org1", UAPKID: "billing-bot", AgentID: "agent-1",
		ActionType: "email", Tool: "send", Decision: domain.DecisionApproved,
		Request: map[string]interface{}{"to": "x@y.z"},
	})
	require.NoError(t, err)
	assert.Empty(t, r.PreviousRecordHash)
	assert.NotEmpty(t, r.RecordHash)
	assert.NotEmpty(t, r.GatewaySignature)
}

func TestSeal_ChainsSubsequentRecords(t *testing.T) {
	e, _ := newEngine(t)
	r1, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{"a": 1}})
	require.NoError(t, err)
	r2, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "payment", Tool: "transfer", Decision: domain.DecisionDenied, Request: map[string]interface{}{"a": 2}})
	require.NoError(t, err)

	assert.Equal(t, r1.RecordHash, r2.PreviousRecordHash)
}

func TestSeal_DifferentChainsDoNotInterfere(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{}})
	require.NoError(t, err)
	r, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u2", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{}})
	require.NoError(t, err)

	assert.Empty(t, r.PreviousRecordHash, "a different uapk_id starts its own chain")
}

func TestVerify_ValidChainReportsNoErrors(t *testing.T) {
	e, _ := newEngine(t)
	for i := 0; i < 10; i++ {
		_, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{"n": i}})
		require.NoError(t, err)
	}

	report, err := e.Verify("org1", "u1", nil, nil)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 10, report.RecordCount)
}

func TestVerify_DetectsTamperedRecordAndBrokenLink(t *testing.T) {
	e, store := newEngine(t)
	for i := 0; i < 10; i++ {
		_, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{"n": i}})
		require.NoError(t, err)
	}

	store.records[4].ReasonsJSON = []domain.Reason{{Code: "TAMPERED", Message: "injected"}}

	report, err := e.Verify("org1", "u1", nil, nil)
	require.NoError(t, err)
	assert.False(t, report.IsValid)

	var sawHashMismatch, sawLinkMismatch bool
	for _, e := range report.Errors {
		if e.RecordID == store.records[4].RecordID && strings.Contains(e.Reason, "record_hash mismatch") {
			sawHashMismatch = true
		}
		if e.RecordID == store.records[5].RecordID && strings.Contains(e.Reason, "previous_record_hash mismatch") {
			sawLinkMismatch = true
		}
	}
	assert.True(t, sawHashMismatch, "mutated record must fail its own hash check")
	assert.True(t, sawLinkMismatch, "the record after the mutated one must fail its link check")
}

func TestExport_WriteJSONLStreamsMetadataThenRecords(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Seal(SealParams{OrgID: "org1", UAPKID: "u1", ActionType: "email", Tool: "send", Decision: domain.DecisionApproved, Request: map[string]interface{}{}})
	require.NoError(t, err)

	ex := NewExporter(e, nil)
	var buf bytes.Buffer
	require.NoError(t, ex.WriteJSONL(&buf, "org1", "u1", nil, nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"metadata"`)
	assert.Contains(t, lines[1], `"type":"record"`)
}
