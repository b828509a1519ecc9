package tenants_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/gwcrypto"
	"github.com/amakua/uapk-gateway/pkg/tenants"
)

// mockProvisioner implements tenants.Provisioner in memory for tests that
// don't need a live Postgres connection.
type mockProvisioner struct {
	orgs        map[string]*tenants.Organization
	keys        map[string]*tenants.ApiKey
	users       map[string]*tenants.User
	memberships map[string]*tenants.Membership
}

var _ tenants.Provisioner = (*mockProvisioner)(nil)

func newMockProvisioner() *mockProvisioner {
	return &mockProvisioner{
		orgs:        make(map[string]*tenants.Organization),
		keys:        make(map[string]*tenants.ApiKey),
		users:       make(map[string]*tenants.User),
		memberships: make(map[string]*tenants.Membership),
	}
}

func (p *mockProvisioner) GetUserByEmail(ctx context.Context, email string) (*tenants.User, error) {
	for _, u := range p.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, assert.AnError
}

func (p *mockProvisioner) GetMembership(ctx context.Context, userID, orgID string) (*tenants.Membership, error) {
	if m, ok := p.memberships[userID+"|"+orgID]; ok {
		return m, nil
	}
	return nil, assert.AnError
}

func (p *mockProvisioner) Create(ctx context.Context, req tenants.CreateOrganizationRequest) (*tenants.Organization, *tenants.ApiKey, string, error) {
	org := &tenants.Organization{
		ID:        "org-" + req.OrganizationName,
		Name:      req.OrganizationName,
		Status:    tenants.StatusActive,
		CreatedAt: time.Now().UTC(),
		Metadata:  req.Metadata,
	}
	rawKey, prefix, err := gwcrypto.GenerateAPIKey()
	if err != nil {
		return nil, nil, "", err
	}
	hash, err := gwcrypto.HashSecret(rawKey)
	if err != nil {
		return nil, nil, "", err
	}
	key := &tenants.ApiKey{
		ID:             "key-" + org.ID,
		OrganizationID: org.ID,
		Name:           "Default Key",
		KeyPrefix:      prefix,
		KeyHash:        hash,
		Status:         tenants.ApiKeyStatusActive,
		CreatedAt:      time.Now().UTC(),
	}
	p.orgs[org.ID] = org
	p.keys[key.ID] = key
	return org, key, rawKey, nil
}

func (p *mockProvisioner) GetOrganizationByName(ctx context.Context, name string) (*tenants.Organization, error) {
	for _, o := range p.orgs {
		if o.Name == name {
			return o, nil
		}
	}
	return nil, assert.AnError
}

func TestProvisioner_Create(t *testing.T) {
	prov := newMockProvisioner()
	ctx := context.Background()

	org, key, rawKey, err := prov.Create(ctx, tenants.CreateOrganizationRequest{
		OrganizationName: "acme",
		OwnerEmail:       "owner@acme.test",
		OwnerPassword:    "hunter22-very-secure",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, "acme", org.Name)
	assert.Equal(t, tenants.StatusActive, org.Status)
	assert.True(t, org.IsActive())
	assert.NotEmpty(t, rawKey)
	assert.True(t, key.IsActive())
	assert.Equal(t, rawKey[:12], key.KeyPrefix)
}

func TestProvisioner_GetOrganizationByName(t *testing.T) {
	prov := newMockProvisioner()
	ctx := context.Background()

	_, _, _, err := prov.Create(ctx, tenants.CreateOrganizationRequest{
		OrganizationName: "globex",
		OwnerEmail:       "owner@globex.test",
		OwnerPassword:    "another-secure-password",
	})
	require.NoError(t, err)

	found, err := prov.GetOrganizationByName(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", found.Name)

	_, err = prov.GetOrganizationByName(ctx, "notfound")
	assert.Error(t, err)
}

func TestApiKey_VerifyAgainstHash(t *testing.T) {
	rawKey, prefix, err := gwcrypto.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := gwcrypto.HashSecret(rawKey)
	require.NoError(t, err)

	key := &tenants.ApiKey{KeyPrefix: prefix, KeyHash: hash, Status: tenants.ApiKeyStatusActive}
	assert.True(t, key.IsActive())
	assert.True(t, gwcrypto.VerifySecret(rawKey, key.KeyHash))
	assert.False(t, gwcrypto.VerifySecret("uapk_wrongwrongwrongwrongwrongwrong", key.KeyHash))
}
