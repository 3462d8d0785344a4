package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "connect-key", Secret: "secret-key"}

	h1 := auth.HeadersAt("/info/balance", "currency=BTC", 1700000000000)
	h2 := auth.HeadersAt("/info/balance", "currency=BTC", 1700000000000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, "connect-key", h1["Api-Key"])
	assert.Equal(t, "1700000000000", h1["Api-Nonce"])
	assert.NotEmpty(t, h1["Api-Sign"])

	// Different nonce, different signature.
	h3 := auth.HeadersAt("/info/balance", "currency=BTC", 1700000000001)
	assert.NotEqual(t, h1["Api-Sign"], h3["Api-Sign"])

	// Different endpoint, different signature.
	h4 := auth.HeadersAt("/trade/market_buy", "currency=BTC", 1700000000000)
	assert.NotEqual(t, h1["Api-Sign"], h4["Api-Sign"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "connect-key", Secret: "super-secret"}
	s := auth.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "conn****")
}

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "my-api-secret", got)
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	_, err = DecryptSecret(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptSecretValidatesInput(t *testing.T) {
	_, err := EncryptSecret("", "hunter2")
	assert.Error(t, err)
	_, err = EncryptSecret("secret", "")
	assert.Error(t, err)
}

func TestLoadSecret(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedSecretPath: path, SecretPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
