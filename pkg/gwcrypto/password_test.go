package gwcrypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, VerifySecret("correct horse battery staple", hash))
	assert.False(t, VerifySecret("wrong password", hash))
}

func TestGenerateAPIKey_Format(t *testing.T) {
	raw, prefix, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "uapk_"))
	assert.Len(t, raw, 5+32)
	assert.Equal(t, raw[:12], prefix)
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	raw1, _, err := GenerateAPIKey()
	require.NoError(t, err)
	raw2, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw1, raw2)
}
