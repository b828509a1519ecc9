package api

import "net/http"

// Pinger is satisfied by *sql.DB (and anything else that can check it is
// still reachable); readyz fails if the configured store can't be pinged.
type Pinger interface {
	Ping() error
}

// HandleHealthz serves GET /healthz (public): process liveness only.
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReadyz serves GET /readyz (public): liveness plus a store ping. It
// answers 503 as soon as the ping fails, so a load balancer can take the
// instance out of rotation while the store is unreachable.
func HandleReadyz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "detail": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
