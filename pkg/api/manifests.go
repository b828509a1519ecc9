package api

import (
	"encoding/json"
	"net/http"

	"github.com/amakua/uapk-gateway/pkg/domain"
	"github.com/amakua/uapk-gateway/pkg/manifeststore"
)

type createManifestBody struct {
	UAPKID      string              `json:"uapk_id"`
	Version     string              `json:"version"`
	Manifest    domain.ManifestBody `json:"manifest_json"`
	Description string              `json:"description,omitempty"`
}

// HandleCreateManifest serves POST /orgs/{orgID}/manifests (OPERATOR+).
func HandleCreateManifest(registry *manifeststore.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		principal := mustPrincipal(w, r)
		if principal == nil {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var body createManifestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}

		m, err := registry.Create(manifeststore.CreateParams{
			OrgID:           orgID,
			UAPKID:          body.UAPKID,
			Version:         body.Version,
			Body:            body.Manifest,
			Description:     body.Description,
			CreatedByUserID: principal.UserID,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	}
}

// HandleListManifests serves GET /orgs/{orgID}/manifests (OPERATOR+).
func HandleListManifests(registry *manifeststore.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		manifests, err := registry.List(orgID)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, manifests)
	}
}

// HandleGetManifest serves GET /orgs/{orgID}/manifests/{manifestID}.
func HandleGetManifest(registry *manifeststore.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("manifestID")
		m, err := registry.Get(orgID, id)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if m == nil {
			WriteNotFound(w, "manifest not found")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

type patchManifestBody struct {
	Description *string `json:"description"`
}

// HandlePatchManifest serves PATCH /orgs/{orgID}/manifests/{manifestID} —
// the only mutable field is description (spec §4.H: manifest_json and
// manifest_hash are immutable after creation).
func HandlePatchManifest(registry *manifeststore.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("manifestID")
		var body patchManifestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}
		if body.Description == nil {
			WriteBadRequest(w, "description is required")
			return
		}
		m, err := registry.UpdateDescription(orgID, id, *body.Description)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// HandleManifestTransition builds the activate/suspend/revoke handlers,
// which differ only in which Registry method they call.
func HandleManifestTransition(registry *manifeststore.Registry, transition func(*manifeststore.Registry, string, string) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("manifestID")
		m, err := transition(registry, orgID, id)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func ActivateManifest(r *manifeststore.Registry, orgID, id string) (interface{}, error) { return r.Activate(orgID, id) }
func SuspendManifest(r *manifeststore.Registry, orgID, id string) (interface{}, error)  { return r.Suspend(orgID, id) }
func RevokeManifest(r *manifeststore.Registry, orgID, id string) (interface{}, error)   { return r.Revoke(orgID, id) }

// HandleDeleteManifest serves DELETE /orgs/{orgID}/manifests/{manifestID}.
func HandleDeleteManifest(registry *manifeststore.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("manifestID")
		if err := registry.Delete(orgID, id); err != nil {
			WriteDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
