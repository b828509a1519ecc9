package api

import (
	"errors"
	"net/http"

	"github.com/amakua/uapk-gateway/pkg/identity"
)

var errNoActiveKey = errors.New("no active signing key")

// HandleGatewayKey serves GET /capabilities/gateway-key (public): the
// gateway's current Ed25519 public key, for callers that want to verify
// capability-token signatures without calling back into this gateway.
func HandleGatewayKey(keys *identity.InMemoryKeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kid, publicKeyB64, ok := keys.ActivePublicKey()
		if !ok {
			WriteInternal(w, errNoActiveKey)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"kid":        kid,
			"algorithm":  "EdDSA",
			"public_key": publicKeyB64,
		})
	}
}
