package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/gwcrypto"
	"github.com/amakua/uapk-gateway/pkg/identity"
	"github.com/amakua/uapk-gateway/pkg/tenants"
)

// fakeProvisioner is an in-memory tenants.Provisioner for exercising the
// registration/login handlers without a real database.
type fakeProvisioner struct {
	orgsByName map[string]*tenants.Organization
	usersByEmail map[string]*tenants.User
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		orgsByName:   map[string]*tenants.Organization{},
		usersByEmail: map[string]*tenants.User{},
	}
}

func (p *fakeProvisioner) Create(ctx context.Context, req tenants.CreateOrganizationRequest) (*tenants.Organization, *tenants.ApiKey, string, error) {
	if _, exists := p.orgsByName[req.OrganizationName]; exists {
		return nil, nil, "", errors.New("organization name already taken")
	}
	org := &tenants.Organization{ID: "org-" + req.OrganizationName, Name: req.OrganizationName, Status: tenants.StatusActive, CreatedAt: time.Now().UTC()}
	p.orgsByName[org.Name] = org

	hash, err := gwcrypto.HashSecret(req.OwnerPassword)
	if err != nil {
		return nil, nil, "", err
	}
	user := &tenants.User{ID: "user-" + req.OwnerEmail, Email: req.OwnerEmail, PasswordHash: hash, Status: tenants.StatusActive, CreatedAt: time.Now().UTC()}
	p.usersByEmail[user.Email] = user

	rawKey, keyPrefix, err := gwcrypto.GenerateAPIKey()
	if err != nil {
		return nil, nil, "", err
	}
	keyHash, err := gwcrypto.HashSecret(rawKey)
	if err != nil {
		return nil, nil, "", err
	}
	apiKey := &tenants.ApiKey{ID: "key-1", OrganizationID: org.ID, KeyPrefix: keyPrefix, KeyHash: keyHash, Status: tenants.ApiKeyStatusActive, CreatedAt: time.Now().UTC()}
	return org, apiKey, rawKey, nil
}

func (p *fakeProvisioner) GetOrganizationByName(ctx context.Context, name string) (*tenants.Organization, error) {
	return p.orgsByName[name], nil
}

func (p *fakeProvisioner) GetUserByEmail(ctx context.Context, email string) (*tenants.User, error) {
	return p.usersByEmail[email], nil
}

func (p *fakeProvisioner) GetMembership(ctx context.Context, userID, orgID string) (*tenants.Membership, error) {
	return nil, nil
}

func TestHandleRegisterOrganization(t *testing.T) {
	prov := newFakeProvisioner()
	handler := HandleRegisterOrganization(prov)

	body := registerOrgBody{OrganizationName: "acme", OwnerEmail: "owner@acme.test", OwnerPassword: "hunter22"}
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/orgs", bytes.NewReader(payload))
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got registerOrgResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "acme", got.Organization.Name)
	assert.NotEmpty(t, got.APIKey)
}

func TestHandleRegisterOrganization_MissingFields(t *testing.T) {
	prov := newFakeProvisioner()
	handler := HandleRegisterOrganization(prov)

	req := httptest.NewRequest(http.MethodPost, "/orgs", bytes.NewReader([]byte(`{"organization_name":"acme"}`)))
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRegisterOrganization_DuplicateName(t *testing.T) {
	prov := newFakeProvisioner()
	handler := HandleRegisterOrganization(prov)
	body := []byte(`{"organization_name":"acme","owner_email":"a@acme.test","owner_password":"hunter22"}`)

	req1 := httptest.NewRequest(http.MethodPost, "/orgs", bytes.NewReader(body))
	handler(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodPost, "/orgs", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	handler(w2, req2)

	assert.Equal(t, http.StatusConflict, w2.Code)
}

func newTestSessionCodec(t *testing.T) *captoken.Codec {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	return captoken.NewCodec(ks)
}

func TestHandleLogin(t *testing.T) {
	prov := newFakeProvisioner()
	_, _, _, err := prov.Create(context.Background(), tenants.CreateOrganizationRequest{
		OrganizationName: "acme", OwnerEmail: "owner@acme.test", OwnerPassword: "hunter22",
	})
	require.NoError(t, err)

	codec := newTestSessionCodec(t)
	handler := HandleLogin(prov, codec, time.Hour)

	body := []byte(`{"email":"owner@acme.test","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotEmpty(t, got.SessionToken)
	assert.Equal(t, int64(3600), got.ExpiresIn)
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	prov := newFakeProvisioner()
	_, _, _, err := prov.Create(context.Background(), tenants.CreateOrganizationRequest{
		OrganizationName: "acme", OwnerEmail: "owner@acme.test", OwnerPassword: "hunter22",
	})
	require.NoError(t, err)

	codec := newTestSessionCodec(t)
	handler := HandleLogin(prov, codec, time.Hour)

	body := []byte(`{"email":"owner@acme.test","password":"wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleLogin_UnknownEmail(t *testing.T) {
	prov := newFakeProvisioner()
	codec := newTestSessionCodec(t)
	handler := HandleLogin(prov, codec, time.Hour)

	body := []byte(`{"email":"nobody@acme.test","password":"whatever"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
