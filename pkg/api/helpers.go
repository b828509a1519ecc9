package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amakua/uapk-gateway/pkg/auth"
)

// timeNow is the one place handlers call time.Now, so request-timestamped
// fields are all UTC and consistent with the rest of the gateway's stores.
func timeNow() time.Time { return time.Now().UTC() }

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mustPrincipal fetches the auth.Principal a SessionMiddleware attached to
// the request context, writing a 401 and returning nil if one is missing —
// which should only happen if a route forgot to wrap itself in that
// middleware.
func mustPrincipal(w http.ResponseWriter, r *http.Request) *auth.Principal {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "no session principal in context")
		return nil
	}
	return &p
}
