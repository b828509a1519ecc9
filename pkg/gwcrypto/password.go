// Package gwcrypto provides adaptive hashing for user passwords and API
// keys, and generation of the gateway's opaque bearer secrets.
package gwcrypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret adaptively hashes a password or API key for storage.
func HashSecret(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("gwcrypto: hash failed: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares a plaintext password or API key against its stored
// adaptive hash.
func VerifySecret(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// GenerateAPIKey produces a new raw API key in the uapk_<32 hex chars>
// format and returns it alongside the key prefix used to narrow lookups
// before the adaptive-hash compare.
func GenerateAPIKey() (raw, keyPrefix string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("gwcrypto: failed to generate key: %w", err)
	}
	raw = "uapk_" + hex.EncodeToString(buf)
	keyPrefix = raw[:12]
	return raw, keyPrefix, nil
}
