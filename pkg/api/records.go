package api

import (
	"net/http"
	"time"

	"github.com/amakua/uapk-gateway/pkg/audit"
)

// HandleListRecords serves GET /orgs/{orgID}/records (viewer+). Optional
// uapk_id, from, to query params scope the listing to one agent's chain or
// a time window; without uapk_id the full org history is returned.
func HandleListRecords(store audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		q := r.URL.Query()
		from, to := parseTimeRange(q)

		if uapkID := q.Get("uapk_id"); uapkID != "" {
			records, err := store.ListChain(orgID, uapkID, from, to)
			if err != nil {
				WriteDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
			return
		}
		records, err := store.ListOrg(orgID, from, to)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	}
}

// HandleGetRecord serves GET /orgs/{orgID}/records/{recordID}.
func HandleGetRecord(store audit.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := store.Get(r.PathValue("orgID"), r.PathValue("recordID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if rec == nil {
			WriteNotFound(w, "record not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// HandleVerifyChain serves GET /orgs/{orgID}/logs/verify/{uapk_id} (viewer+).
func HandleVerifyChain(engine *audit.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, uapkID := r.PathValue("orgID"), r.PathValue("uapk_id")
		from, to := parseTimeRange(r.URL.Query())

		report, err := engine.Verify(orgID, uapkID, from, to)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleExportJSONL serves POST /orgs/{orgID}/logs/export/jsonl (viewer+),
// streaming the metadata line, optional manifest line, then one record per
// line directly onto the response — no full buffering.
func HandleExportJSONL(exporter *audit.Exporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		uapkID := r.URL.Query().Get("uapk_id")
		from, to := parseTimeRange(r.URL.Query())

		w.Header().Set("Content-Type", "application/jsonl")
		w.Header().Set("Content-Disposition", "attachment; filename=\"export.jsonl\"")
		w.WriteHeader(http.StatusOK)

		if err := exporter.WriteJSONL(w, orgID, uapkID, from, to); err != nil {
			// Headers are already sent; nothing more to do but stop writing.
			return
		}
	}
}

// HandleExportDownload serves POST /orgs/{orgID}/logs/export/download
// (viewer+) — the same streamed response and headers as export/jsonl,
// under a second route.
func HandleExportDownload(exporter *audit.Exporter) http.HandlerFunc {
	return HandleExportJSONL(exporter)
}

func parseTimeRange(q map[string][]string) (from, to *time.Time) {
	if v := first(q, "from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = &t
		}
	}
	if v := first(q, "to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = &t
		}
	}
	return from, to
}
