package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/domain"
)

type issueTokenBody struct {
	AgentID      string                 `json:"agent_id"`
	ManifestID   string                 `json:"manifest_id"`
	Capabilities []string               `json:"capabilities"`
	ExpiresInSec int64                  `json:"expires_in"`
	Constraints  domain.TokenConstraints `json:"constraints"`
	MaxActions   *int                   `json:"max_actions,omitempty"`
}

type issueTokenResponse struct {
	Token string                `json:"token"`
	Row   *domain.CapabilityToken `json:"capability_token"`
}

// HandleIssueToken serves POST /orgs/{orgID}/tokens (OPERATOR+). The
// compact signed token string is returned once; only its row — without the
// signature — is retrievable afterward.
func HandleIssueToken(issuer *captoken.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		principal := mustPrincipal(w, r)
		if principal == nil {
			return
		}

		var body issueTokenBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}

		tokenString, row, err := issuer.Issue(captoken.IssueParams{
			OrgID:        orgID,
			AgentID:      body.AgentID,
			ManifestID:   body.ManifestID,
			Capabilities: body.Capabilities,
			ExpiresIn:    secondsToDuration(body.ExpiresInSec),
			IssuedBy:     principal.UserID,
			Constraints:  body.Constraints,
			MaxActions:   body.MaxActions,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, issueTokenResponse{Token: tokenString, Row: row})
	}
}

// HandleListTokens serves GET /orgs/{orgID}/tokens.
func HandleListTokens(store captoken.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokens, err := store.List(r.PathValue("orgID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	}
}

// HandleGetToken serves GET /orgs/{orgID}/tokens/{tokenID}.
func HandleGetToken(store captoken.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := store.Get(r.PathValue("orgID"), r.PathValue("tokenID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if tok == nil {
			WriteNotFound(w, "token not found")
			return
		}
		writeJSON(w, http.StatusOK, tok)
	}
}

type revokeTokenBody struct {
	Reason string `json:"reason"`
}

// HandleRevokeToken serves POST /orgs/{orgID}/tokens/{tokenID}/revoke (admin).
func HandleRevokeToken(issuer *captoken.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body revokeTokenBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if err := issuer.Revoke(r.PathValue("orgID"), r.PathValue("tokenID"), body.Reason); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleRevokeAllForAgent serves POST /orgs/{orgID}/tokens/revoke-all/{agentID} (admin).
func HandleRevokeAllForAgent(issuer *captoken.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := issuer.RevokeAllForAgent(r.PathValue("orgID"), r.PathValue("agentID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"revoked_count": n})
	}
}

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }
