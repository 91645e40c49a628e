package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-123", Secret: "c2VjcmV0", Passphrase: "pp"}

	h1 := auth.HeadersAt("POST", "/v1/positions/open", `{"a":1}`, 1700000000)
	h2 := auth.HeadersAt("POST", "/v1/positions/open", `{"a":1}`, 1700000000)
	assert.Equal(t, h1, h2)
	assert.Equal(t, "key-123", h1[HeaderAPIKey])
	assert.Equal(t, "1700000000", h1[HeaderTimestamp])
	assert.Equal(t, "pp", h1[HeaderPassphrase])

	assert.True(t, auth.Verify("POST", "/v1/positions/open", `{"a":1}`, "1700000000", h1[HeaderSignature]))
	assert.False(t, auth.Verify("POST", "/v1/positions/open", `{"a":2}`, "1700000000", h1[HeaderSignature]))

	noPass := (&HMACAuth{Key: "k", Secret: "s"}).HeadersAt("GET", "/", "", 1)
	_, ok := noPass[HeaderPassphrase]
	assert.False(t, ok)
}

func TestHMACStringRedacts(t *testing.T) {
	s := (&HMACAuth{Key: "abcdefgh", Secret: "supersecret"}).String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}

func TestSealOpenSecret(t *testing.T) {
	blob, err := SealSecret("venue-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := OpenSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "venue-api-secret", got)

	_, err = OpenSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretSource{Raw: " raw "})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	got, err = LoadSecret(SecretSource{})
	require.NoError(t, err)
	assert.Empty(t, got)

	blob, err := SealSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretSource{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}
