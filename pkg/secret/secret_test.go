package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestCipher_EncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	enc, err := c.Encrypt("sk-live-abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-live-abc123", enc)

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", dec)
}

func TestCipher_RejectsWrongKeySize(t *testing.T) {
	_, err := NewCipher([]byte("too-short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestCipher_DecryptFailsOnTamperedCiphertext(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	enc, err := c.Encrypt("value")
	require.NoError(t, err)

	tampered := []byte(enc)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = c.Decrypt(string(tampered))
	assert.Error(t, err)
}

func TestResolver_ResolveDecryptsNamedSecrets(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	store := NewMemoryStore()
	r := NewResolver(store, c)

	_, err = r.Save("org1", "smtp_password", "hunter2", "", "")
	require.NoError(t, err)

	resolved, err := r.Resolve("org1", []string{"smtp_password", "missing"})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", resolved["smtp_password"])
	_, ok := resolved["missing"]
	assert.False(t, ok)
}

func TestResolver_SaveOverwritesSameName(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	store := NewMemoryStore()
	r := NewResolver(store, c)

	first, err := r.Save("org1", "api_key", "v1", "", "")
	require.NoError(t, err)
	second, err := r.Save("org1", "api_key", "v2", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same org+name must update the same row")
	all, _ := store.List("org1")
	assert.Len(t, all, 1)
}
