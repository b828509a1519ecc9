package manifeststore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

func newRegistry() *Registry {
	return NewRegistry(NewMemoryStore())
}

func testBody() domain.ManifestBody {
	b := domain.ManifestBody{}
	b.Capabilities.Requested = []string{"email:send", "calendar:*"}
	b.Constraints = domain.ManifestConstraints{MaxActionsPerDay: 100}
	return b
}

func TestCreate_StartsPendingWithComputedHash(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{
		OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestPending, m.Status)
	assert.NotEmpty(t, m.ManifestHash)
}

func TestCreate_RejectsInvalidSemver(t *testing.T) {
	r := newRegistry()
	_, err := r.Create(CreateParams{
		OrgID: "org1", UAPKID: "agent-1", Version: "not-a-version", Body: testBody(),
	})
	assert.Error(t, err)
}

func TestLifecycle_PendingToActiveToSuspendedToActiveToRevoked(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)

	m, err = r.Activate("org1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestActive, m.Status)

	m, err = r.Suspend("org1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestSuspended, m.Status)

	m, err = r.Activate("org1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestActive, m.Status)

	m, err = r.Revoke("org1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ManifestRevoked, m.Status)
}

func TestLifecycle_RevokedIsTerminal(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)
	m, err = r.Activate("org1", m.ID)
	require.NoError(t, err)
	m, err = r.Revoke("org1", m.ID)
	require.NoError(t, err)

	_, err = r.Activate("org1", m.ID)
	assert.Error(t, err)
}

func TestLifecycle_CannotSuspendFromPending(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)

	// Pending cannot go straight to suspended.
	_, err = r.Suspend("org1", m.ID)
	assert.Error(t, err)
}

func TestDelete_OnlyAllowedFromPending(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)

	m2, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-2", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)
	_, err = r.Activate("org1", m2.ID)
	require.NoError(t, err)

	assert.NoError(t, r.Delete("org1", m.ID))
	assert.Error(t, r.Delete("org1", m2.ID))
}

func TestManifestHash_NeverMutatedByDescriptionUpdate(t *testing.T) {
	r := newRegistry()
	m, err := r.Create(CreateParams{OrgID: "org1", UAPKID: "agent-1", Version: "1.0.0", Body: testBody()})
	require.NoError(t, err)
	originalHash := m.ManifestHash

	updated, err := r.UpdateDescription("org1", m.ID, "now with a description")
	require.NoError(t, err)
	assert.Equal(t, originalHash, updated.ManifestHash)
	assert.Equal(t, "now with a description", updated.Description)
}
