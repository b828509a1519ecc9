package api

import (
	"net/http"

	"github.com/amakua/uapk-gateway/pkg/auth"
)

// NewRouter assembles the gateway's full HTTP surface (spec §6) onto a
// single ServeMux using Go 1.22+ method+path patterns. Org-scoped routes
// are individually wrapped in auth.SessionMiddleware at the role each one
// requires; POST /actions and the public routes are not.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	orgOf := func(r *http.Request) string { return r.PathValue("orgID") }
	session := func(minRole auth.Role) func(http.Handler) http.Handler {
		return auth.SessionMiddleware(deps.SessionKeys, deps.Membership, minRole, orgOf)
	}
	wrap := func(minRole auth.Role, h http.HandlerFunc) http.Handler {
		return session(minRole)(h)
	}

	// The gateway endpoint. Capability-bearer authenticated, not session.
	mux.Handle("POST /actions", HandleActions(deps.Pipeline, deps.Idempotency))

	// Tenant provisioning and operator login. Unauthenticated by
	// necessity — they are how a session bearer is obtained in the first
	// place — so the handlers themselves own all input validation.
	mux.Handle("POST /orgs", HandleRegisterOrganization(deps.Tenants))
	mux.Handle("POST /auth/login", HandleLogin(deps.Tenants, deps.SessionKeys, deps.SessionTTL))

	// Manifests (OPERATOR+).
	mux.Handle("POST /orgs/{orgID}/manifests", wrap(auth.RoleOperator, HandleCreateManifest(deps.Manifests)))
	mux.Handle("GET /orgs/{orgID}/manifests", wrap(auth.RoleOperator, HandleListManifests(deps.Manifests)))
	mux.Handle("GET /orgs/{orgID}/manifests/{manifestID}", wrap(auth.RoleOperator, HandleGetManifest(deps.Manifests)))
	mux.Handle("PATCH /orgs/{orgID}/manifests/{manifestID}", wrap(auth.RoleOperator, HandlePatchManifest(deps.Manifests)))
	mux.Handle("POST /orgs/{orgID}/manifests/{manifestID}/activate", wrap(auth.RoleOperator, HandleManifestTransition(deps.Manifests, ActivateManifest)))
	mux.Handle("POST /orgs/{orgID}/manifests/{manifestID}/suspend", wrap(auth.RoleOperator, HandleManifestTransition(deps.Manifests, SuspendManifest)))
	mux.Handle("POST /orgs/{orgID}/manifests/{manifestID}/revoke", wrap(auth.RoleOperator, HandleManifestTransition(deps.Manifests, RevokeManifest)))
	mux.Handle("DELETE /orgs/{orgID}/manifests/{manifestID}", wrap(auth.RoleOperator, HandleDeleteManifest(deps.Manifests)))

	// Capability tokens (OPERATOR+ to issue/list; ADMIN to revoke).
	mux.Handle("POST /orgs/{orgID}/tokens", wrap(auth.RoleOperator, HandleIssueToken(deps.Tokens)))
	mux.Handle("GET /orgs/{orgID}/tokens", wrap(auth.RoleOperator, HandleListTokens(deps.TokenStore)))
	mux.Handle("GET /orgs/{orgID}/tokens/{tokenID}", wrap(auth.RoleOperator, HandleGetToken(deps.TokenStore)))
	mux.Handle("POST /orgs/{orgID}/tokens/{tokenID}/revoke", wrap(auth.RoleAdmin, HandleRevokeToken(deps.Tokens)))
	mux.Handle("POST /orgs/{orgID}/tokens/revoke-all/{agentID}", wrap(auth.RoleAdmin, HandleRevokeAllForAgent(deps.Tokens)))

	// Policies (ADMIN).
	mux.Handle("POST /orgs/{orgID}/policies", wrap(auth.RoleAdmin, HandleCreatePolicy(deps.Policies)))
	mux.Handle("GET /orgs/{orgID}/policies", wrap(auth.RoleAdmin, HandleListPolicies(deps.Policies)))
	mux.Handle("GET /orgs/{orgID}/policies/{policyID}", wrap(auth.RoleAdmin, HandleGetPolicy(deps.Policies)))
	mux.Handle("PATCH /orgs/{orgID}/policies/{policyID}", wrap(auth.RoleAdmin, HandlePatchPolicy(deps.Policies)))
	mux.Handle("DELETE /orgs/{orgID}/policies/{policyID}", wrap(auth.RoleAdmin, HandleDeletePolicy(deps.Policies)))

	// Approvals (viewer to read, admin to decide).
	mux.Handle("GET /orgs/{orgID}/approvals", wrap(auth.RoleViewer, HandleListApprovals(deps.Approvals)))
	mux.Handle("GET /orgs/{orgID}/approvals/pending", wrap(auth.RoleViewer, HandleListPendingApprovals(deps.Approvals)))
	mux.Handle("GET /orgs/{orgID}/approvals/stats", wrap(auth.RoleViewer, HandleApprovalStats(deps.Approvals)))
	mux.Handle("GET /orgs/{orgID}/approvals/{approvalID}", wrap(auth.RoleViewer, HandleGetApproval(deps.Approvals)))
	mux.Handle("POST /orgs/{orgID}/approvals/{approvalID}/approve", wrap(auth.RoleAdmin, HandleApproveApproval(deps.Approvals)))
	mux.Handle("POST /orgs/{orgID}/approvals/{approvalID}/deny", wrap(auth.RoleAdmin, HandleDenyApproval(deps.Approvals)))

	// Public capability metadata.
	mux.Handle("GET /capabilities/gateway-key", HandleGatewayKey(deps.GatewayKeys))

	// Audit records and log export (viewer+).
	mux.Handle("GET /orgs/{orgID}/records", wrap(auth.RoleViewer, HandleListRecords(deps.AuditStore)))
	mux.Handle("GET /orgs/{orgID}/records/{recordID}", wrap(auth.RoleViewer, HandleGetRecord(deps.AuditStore)))
	mux.Handle("GET /orgs/{orgID}/logs/verify/{uapk_id}", wrap(auth.RoleViewer, HandleVerifyChain(deps.Audit)))
	mux.Handle("POST /orgs/{orgID}/logs/export/jsonl", wrap(auth.RoleViewer, HandleExportJSONL(deps.Exporter)))
	mux.Handle("POST /orgs/{orgID}/logs/export/download", wrap(auth.RoleViewer, HandleExportDownload(deps.Exporter)))

	// Liveness/readiness.
	mux.HandleFunc("GET /healthz", HandleHealthz)
	mux.Handle("GET /readyz", HandleReadyz(nil))

	return mux
}
