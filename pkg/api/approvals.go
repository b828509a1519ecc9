package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/domain"
)

// HandleListApprovals serves GET /orgs/{orgID}/approvals (viewer+). Query
// params: status, uapk_id, limit, offset.
func HandleListApprovals(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		q := r.URL.Query()
		limit, offset := pageParams(q)

		approvals, total, err := svc.List(orgID, domain.ApprovalStatus(q.Get("status")), q.Get("uapk_id"), limit, offset)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"approvals": approvals,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		})
	}
}

// HandleListPendingApprovals serves GET /orgs/{orgID}/approvals/pending.
func HandleListPendingApprovals(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.PathValue("orgID")
		limit, offset := pageParams(r.URL.Query())
		approvals, total, err := svc.List(orgID, domain.ApprovalPending, "", limit, offset)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"approvals": approvals,
			"total":     total,
		})
	}
}

// HandleApprovalStats serves GET /orgs/{orgID}/approvals/stats.
func HandleApprovalStats(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.PathValue("orgID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleGetApproval serves GET /orgs/{orgID}/approvals/{approvalID}.
func HandleGetApproval(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Get(r.PathValue("orgID"), r.PathValue("approvalID"))
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		if a == nil {
			WriteNotFound(w, "approval not found")
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

type approveBody struct {
	Notes                     string `json:"notes,omitempty"`
	OverrideTokenExpiresInSec int64  `json:"override_token_expires_in_seconds,omitempty"`
}

// HandleApproveApproval serves POST /orgs/{orgID}/approvals/{approvalID}/approve
// (admin). The raw override token is returned exactly once.
func HandleApproveApproval(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("approvalID")
		principal := mustPrincipal(w, r)
		if principal == nil {
			return
		}

		var body approveBody
		_ = json.NewDecoder(r.Body).Decode(&body)

		result, err := svc.Approve(approval.ApproveParams{
			OrgID:                  orgID,
			ApprovalID:             id,
			UserID:                 principal.UserID,
			Notes:                  body.Notes,
			OverrideTokenExpiresIn: time.Duration(body.OverrideTokenExpiresInSec) * time.Second,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"approval":                  result.Approval,
			"override_token":            result.OverrideToken,
			"override_token_expires_at": result.Approval.OverrideTokenExpiresAt,
		})
	}
}

type denyBody struct {
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HandleDenyApproval serves POST /orgs/{orgID}/approvals/{approvalID}/deny (admin).
func HandleDenyApproval(svc *approval.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, id := r.PathValue("orgID"), r.PathValue("approvalID")
		principal := mustPrincipal(w, r)
		if principal == nil {
			return
		}

		var body denyBody
		_ = json.NewDecoder(r.Body).Decode(&body)

		a, err := svc.Deny(approval.DenyParams{
			OrgID:      orgID,
			ApprovalID: id,
			UserID:     principal.UserID,
			Notes:      body.Notes,
			Reason:     body.Reason,
		})
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func pageParams(q map[string][]string) (limit, offset int) {
	limit, offset = 50, 0
	if v := first(q, "limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := first(q, "offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func first(q map[string][]string, key string) string {
	if vs, ok := q[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
