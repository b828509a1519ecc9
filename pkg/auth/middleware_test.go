package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amakua/uapk-gateway/pkg/auth"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/identity"
)

type staticMembership map[string]auth.Role

func (m staticMembership) RoleInOrg(userID, orgID string) (auth.Role, error) {
	role, ok := m[userID+"/"+orgID]
	if !ok {
		return "", assert.AnError
	}
	return role, nil
}

func orgFromPath(r *http.Request) string { return r.PathValue("orgID") }

func setupCodec(t *testing.T) *captoken.Codec {
	t.Helper()
	ks, err := identity.NewInMemoryKeySet()
	require.NoError(t, err)
	return captoken.NewCodec(ks)
}

func TestSessionMiddleware_ValidSession(t *testing.T) {
	codec := setupCodec(t)
	lookup := staticMembership{"user-1/org-1": auth.RoleOperator}
	mw := auth.SessionMiddleware(codec, lookup, auth.RoleOperator, orgFromPath)

	var captured auth.Principal
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		require.NoError(t, err)
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token, err := codec.IssueSession("user-1", time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /orgs/{orgID}/manifests", handler)
	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1", captured.UserID)
	assert.Equal(t, "org-1", captured.OrgID)
	assert.Equal(t, auth.RoleOperator, captured.Role)
}

func TestSessionMiddleware_MissingBearer(t *testing.T) {
	codec := setupCodec(t)
	mw := auth.SessionMiddleware(codec, staticMembership{}, auth.RoleViewer, orgFromPath)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a bearer token")
	}))

	mux := http.NewServeMux()
	mux.Handle("GET /orgs/{orgID}/manifests", handler)
	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionMiddleware_ExpiredToken(t *testing.T) {
	codec := setupCodec(t)
	mw := auth.SessionMiddleware(codec, staticMembership{"user-1/org-1": auth.RoleOwner}, auth.RoleViewer, orgFromPath)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for an expired token")
	}))

	token, err := codec.IssueSession("user-1", -time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /orgs/{orgID}/manifests", handler)
	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionMiddleware_InsufficientRole(t *testing.T) {
	codec := setupCodec(t)
	lookup := staticMembership{"user-1/org-1": auth.RoleViewer}
	mw := auth.SessionMiddleware(codec, lookup, auth.RoleAdmin, orgFromPath)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a viewer on an admin route")
	}))

	token, err := codec.IssueSession("user-1", time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /orgs/{orgID}/policies", handler)
	req := httptest.NewRequest("GET", "/orgs/org-1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSessionMiddleware_NotAMember(t *testing.T) {
	codec := setupCodec(t)
	mw := auth.SessionMiddleware(codec, staticMembership{}, auth.RoleViewer, orgFromPath)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run for a non-member")
	}))

	token, err := codec.IssueSession("ghost", time.Hour)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle("GET /orgs/{orgID}/manifests", handler)
	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, auth.RoleOwner.Satisfies(auth.RoleViewer))
	assert.True(t, auth.RoleAdmin.Satisfies(auth.RoleAdmin))
	assert.False(t, auth.RoleOperator.Satisfies(auth.RoleAdmin))
	assert.False(t, auth.Role("bogus").Satisfies(auth.RoleViewer))
}

func TestGetRequestID_ExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/orgs/org-1/manifests", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.NotEmpty(t, got)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
