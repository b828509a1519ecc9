package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/amakua/uapk-gateway/pkg/captoken"
)

// orgIDParam extracts the org ID a request is scoped to. Routes are mounted
// under /orgs/{orgID}/..., matching net/http's Go 1.22+ path-pattern syntax,
// so callers pass r.PathValue("orgID") as orgOf.
type orgIDParam func(r *http.Request) string

// SessionMiddleware verifies a session bearer token with codec, resolves
// the caller's role in the request's org via lookup, and rejects requests
// below minRole. On success it attaches a Principal to the request context
// (retrieve with GetPrincipal).
func SessionMiddleware(codec *captoken.Codec, lookup MembershipLookup, minRole Role, orgOf orgIDParam) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeProblem(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := codec.Verify(token, captoken.KindSession)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "invalid or expired session token")
				return
			}

			orgID := orgOf(r)
			if orgID == "" {
				writeProblem(w, http.StatusBadRequest, "org id required")
				return
			}

			role, err := lookup.RoleInOrg(claims.Subject, orgID)
			if err != nil {
				writeProblem(w, http.StatusForbidden, "not a member of this organization")
				return
			}
			if !role.Satisfies(minRole) {
				writeProblem(w, http.StatusForbidden, "insufficient role")
				return
			}

			principal := Principal{UserID: claims.Subject, OrgID: orgID, Role: role}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// writeProblem emits a minimal RFC 7807 body. pkg/auth can't depend on
// pkg/api for the full ProblemDetail writer — pkg/api depends on pkg/auth
// for this middleware, and that dependency only runs one way.
func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"status":` + strconv.Itoa(status) + `,"detail":"` + detail + `"}`))
}
