package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/amakua/uapk-gateway/pkg/domain"
)

type policyBody struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	PolicyType  domain.PolicyType  `json:"policy_type"`
	Scope       domain.PolicyScope `json:"scope"`
	Priority    int                `json:"priority"`
	Rules       domain.PolicyRules `json:"rules"`
	Enabled     bool               `json:"enabled"`
}

// HandleCreatePolicy serves POST /orgs/{orgID}/policies (ADMIN).
func HandleCreatePolicy(store PolicyAdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		principal := mustPrincipal(w, r)
		if principal == nil {
			return
		}

		var body policyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}

		now := timeNow()
		p := &domain.Policy{
			ID:              uuid.New().String(),
			OrgID:           orgID,
			Name:            body.Name,
			Description:     body.Description,
			PolicyType:      body.PolicyType,
			Scope:           body.Scope,
			Priority:        body.Priority,
			Rules:           body.Rules,
			Enabled:         body.Enabled,
			CreatedByUserID: principal.UserID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := store.Insert(p); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// HandleListPolicies serves GET /orgs/{orgID}/policies (ADMIN). Only the
// enabled subset is exposed here; the store's own Get can surface disabled
// rows for a single-policy read.
func HandleListPolicies(store PolicyAdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policies, err := store.ListEnabled(r.PathValue("orgID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, policies)
	}
}

// HandleGetPolicy serves GET /orgs/{orgID}/policies/{policyID}.
func HandleGetPolicy(store PolicyAdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := store.Get(r.PathValue("orgID"), r.PathValue("policyID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if p == nil {
			WriteNotFound(w, "policy not found")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandlePatchPolicy serves PATCH /orgs/{orgID}/policies/{policyID}.
func HandlePatchPolicy(store PolicyAdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("policyID")
		p, err := store.Get(orgID, id)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if p == nil {
			WriteNotFound(w, "policy not found")
			return
		}

		var body policyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}
		p.Name = body.Name
		p.Description = body.Description
		p.PolicyType = body.PolicyType
		p.Scope = body.Scope
		p.Priority = body.Priority
		p.Rules = body.Rules
		p.Enabled = body.Enabled
		p.UpdatedAt = timeNow()

		if err := store.Update(p); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleDeletePolicy serves DELETE /orgs/{orgID}/policies/{policyID}.
func HandleDeletePolicy(store PolicyAdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(r.PathValue("orgID"), r.PathValue("policyID")); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
