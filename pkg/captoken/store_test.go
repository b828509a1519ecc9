package captoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

type fakeManifests struct {
	manifests map[string]*domain.Manifest
}

func (f *fakeManifests) Get(orgID, manifestID string) (*domain.Manifest, error) {
	return f.manifests[manifestID], nil
}

func TestIssue_RejectsCapabilitiesOutsideManifest(t *testing.T) {
	codec := newCodec(t)
	manifests := &fakeManifests{manifests: map[string]*domain.Manifest{
		"m1": {ID: "m1", OrgID: "org1", UAPKID: "billing-bot", Status: domain.ManifestActive},
	}}
	manifests.manifests["m1"].ManifestJSON.Capabilities.Requested = []string{"email:send"}

	issuer := NewIssuer(NewMemoryStore(), manifests, codec)
	_, _, err := issuer.Issue(IssueParams{
		OrgID: "org1", AgentID: "agent-1", ManifestID: "m1",
		Capabilities: []string{"payment:transfer"}, ExpiresIn: time.Hour,
	})
	assert.Error(t, err)
}

func TestIssue_RejectsInactiveManifest(t *testing.T) {
	codec := newCodec(t)
	manifests := &fakeManifests{manifests: map[string]*domain.Manifest{
		"m1": {ID: "m1", OrgID: "org1", Status: domain.ManifestPending},
	}}

	issuer := NewIssuer(NewMemoryStore(), manifests, codec)
	_, _, err := issuer.Issue(IssueParams{
		OrgID: "org1", AgentID: "agent-1", ManifestID: "m1",
		Capabilities: []string{"email:send"}, ExpiresIn: time.Hour,
	})
	assert.Error(t, err)
}

func TestIssue_Success(t *testing.T) {
	codec := newCodec(t)
	manifests := &fakeManifests{manifests: map[string]*domain.Manifest{
		"m1": {ID: "m1", OrgID: "org1", UAPKID: "billing-bot", Status: domain.ManifestActive},
	}}
	manifests.manifests["m1"].ManifestJSON.Capabilities.Requested = []string{"email:*"}

	store := NewMemoryStore()
	issuer := NewIssuer(store, manifests, codec)
	tokenStr, row, err := issuer.Issue(IssueParams{
		OrgID: "org1", AgentID: "agent-1", ManifestID: "m1",
		Capabilities: []string{"email:send"}, ExpiresIn: time.Hour,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.Equal(t, 0, row.ActionsUsed)

	claims, err := codec.Verify(tokenStr, KindCapability)
	require.NoError(t, err)
	assert.Equal(t, row.TokenID, claims.Subject)
}

func TestRevokeAllForAgent_NoAuditEntryOnlyCount(t *testing.T) {
	codec := newCodec(t)
	store := NewMemoryStore()
	issuer := NewIssuer(store, &fakeManifests{manifests: map[string]*domain.Manifest{}}, codec)

	for i := 0; i < 3; i++ {
		_, _, err := issuer.Issue(IssueParams{
			OrgID: "org1", AgentID: "agent-1", Capabilities: []string{"email:send"}, ExpiresIn: time.Hour,
		})
		require.NoError(t, err)
	}

	count, err := issuer.RevokeAllForAgent("org1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, _ := store.List("org1")
	for _, t := range all {
		assert.True(t, t.Revoked)
	}
}

func TestIncrementActionsUsed_NeverExceedsMax(t *testing.T) {
	store := NewMemoryStore()
	max := 1
	row := &domain.CapabilityToken{ID: "t1", OrgID: "org1", MaxActions: &max}
	require.NoError(t, store.Insert(row))

	require.NoError(t, store.IncrementActionsUsed("org1", "t1"))
	err := store.IncrementActionsUsed("org1", "t1")
	assert.Error(t, err, "second increment must be denied once actions_used == max_actions")
}
