package crypto

import (
	"fmt"
	"sort"
	"sync"
)

// KeyRing holds the gateway's signing keys across rotations. Exactly one key
// is "active" (used for new signatures); all keys remain available for
// verifying signatures produced before a rotation.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]*Ed25519Signer
	active  string
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{
		signers: make(map[string]*Ed25519Signer),
	}
}

// AddKey adds a signer to the keyring and, if it sorts after every existing
// key ID, makes it the active signing key. Key IDs should be chosen so that
// lexicographic order matches rotation order (e.g. "gw-2024-01", "gw-2024-06").
func (k *KeyRing) AddKey(s *Ed25519Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
	if k.active == "" || s.KeyID() > k.active {
		k.active = s.KeyID()
	}
}

// RevokeKey removes a key from the keyring by ID. If it was the active key,
// the next-highest remaining key ID becomes active.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
	if k.active != keyID {
		return
	}
	k.active = ""
	var keys []string
	for id := range k.signers {
		keys = append(keys, id)
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	k.active = keys[len(keys)-1]
}

// ActiveKeyID returns the key ID currently used to sign new records.
func (k *KeyRing) ActiveKeyID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// Sign signs data with the active key and returns the signature along with
// the key ID that produced it, so callers can persist which key signed what.
func (k *KeyRing) Sign(data []byte) (signatureHex, keyID string, err error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == "" {
		return "", "", fmt.Errorf("crypto: keyring has no active key")
	}
	sig, err := k.signers[k.active].Sign(data)
	if err != nil {
		return "", "", err
	}
	return sig, k.active, nil
}

// VerifyKey verifies a signature against a specific key ID, current or
// historical. This is how the gateway verifies a gateway_signature produced
// by a key that has since been rotated out.
func (k *KeyRing) VerifyKey(keyID string, message []byte, signatureHex string) (bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	signer, exists := k.signers[keyID]
	if !exists {
		return false, fmt.Errorf("crypto: unknown key: %s", keyID)
	}
	return signer.Verify(message, signatureHex), nil
}

// PublicKeyFor returns the hex-encoded public key for a given key ID, for
// publishing the gateway's current and historical public keys.
func (k *KeyRing) PublicKeyFor(keyID string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[keyID]
	if !ok {
		return "", false
	}
	return s.PublicKey(), true
}

// KnownKeyIDs returns every key ID currently held, active or rotated-out,
// for callers that need to verify a signature against historical keys.
func (k *KeyRing) KnownKeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		ids = append(ids, id)
	}
	return ids
}

// ActivePublicKey returns the hex-encoded public key of the active signer.
func (k *KeyRing) ActivePublicKey() (keyID, pubKeyHex string, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.active == "" {
		return "", "", false
	}
	return k.active, k.signers[k.active].PublicKey(), true
}
