package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/gwcrypto"
	"github.com/amakua/uapk-gateway/pkg/tenants"
)

type registerOrgBody struct {
	OrganizationName string `json:"organization_name"`
	OwnerEmail       string `json:"owner_email"`
	OwnerPassword    string `json:"owner_password"`
}

type registerOrgResponse struct {
	Organization *tenants.Organization `json:"organization"`
	APIKey       string                `json:"api_key"`
}

// HandleRegisterOrganization serves POST /orgs: provisions a new tenant,
// its owner user, an owner membership, and a default API key in one
// transaction. The raw API key is returned exactly once.
func HandleRegisterOrganization(prov tenants.Provisioner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body registerOrgBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}
		if body.OrganizationName == "" || body.OwnerEmail == "" || body.OwnerPassword == "" {
			WriteBadRequest(w, "organization_name, owner_email, and owner_password are required")
			return
		}

		org, _, rawKey, err := prov.Create(r.Context(), tenants.CreateOrganizationRequest{
			OrganizationName: body.OrganizationName,
			OwnerEmail:       body.OwnerEmail,
			OwnerPassword:    body.OwnerPassword,
		})
		if err != nil {
			WriteConflict(w, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, registerOrgResponse{Organization: org, APIKey: rawKey})
	}
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// HandleLogin serves POST /auth/login: verifies an operator's password and
// mints a session-kind capability token, the bearer SessionMiddleware
// expects on every org-scoped admin route.
func HandleLogin(prov tenants.Provisioner, codec *captoken.Codec, ttl time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}

		user, err := prov.GetUserByEmail(r.Context(), body.Email)
		if err != nil || user == nil {
			WriteUnauthorized(w, "invalid email or password")
			return
		}
		if !gwcrypto.VerifySecret(body.Password, user.PasswordHash) {
			WriteUnauthorized(w, "invalid email or password")
			return
		}
		if user.Status != tenants.StatusActive {
			WriteForbidden(w, "account is not active")
			return
		}

		token, err := codec.IssueSession(user.ID, ttl)
		if err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{SessionToken: token, ExpiresIn: int64(ttl.Seconds())})
	}
}
