package vault

import (
	"encoding/base64"
	"errors"
	"testing"

	"fyers_desk/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Low iteration count keeps the suite fast; derivation itself is covered by x/crypto.
func newTestVault(t *testing.T, secret string) *Vault {
	t.Helper()
	v, err := New([]byte(secret), WithIterations(1000))
	require.NoError(t, err)
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t, "app-secret")

	inputs := []string{"", "FYXXXX-100", "s3cr3t with spaces", "ключ", string(make([]byte, 4096))}
	for _, in := range inputs {
		blob, err := v.Encrypt(in)
		require.NoError(t, err)

		out, err := v.Decrypt(blob)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestVault_EncryptIsNonDeterministic(t *testing.T) {
	v := newTestVault(t, "app-secret")

	a, err := v.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := v.Encrypt("same plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVault_DecryptFailures(t *testing.T) {
	v := newTestVault(t, "app-secret")
	other := newTestVault(t, "different-secret")

	good, err := v.Encrypt("api-secret")
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(good)
	require.NoError(t, err)
	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-1] ^= 0xFF
	badVersion := append([]byte(nil), raw...)
	badVersion[0] = 9

	tests := []struct {
		name  string
		vault *Vault
		blob  string
	}{
		{"empty", v, ""},
		{"not base64", v, "%%%"},
		{"too short", v, base64.URLEncoding.EncodeToString([]byte{1, 2, 3})},
		{"tampered", v, base64.URLEncoding.EncodeToString(tampered)},
		{"unknown version", v, base64.URLEncoding.EncodeToString(badVersion)},
		{"wrong key", other, good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.vault.Decrypt(tt.blob)
			var de *domain.DecryptionError
			require.True(t, errors.As(err, &de), "expected DecryptionError, got %v", err)
			assert.Empty(t, out)
		})
	}
}

func TestVault_SaltChangesKey(t *testing.T) {
	a, err := New([]byte("app-secret"), WithIterations(1000), WithSalt([]byte("salt-a")))
	require.NoError(t, err)
	b, err := New([]byte("app-secret"), WithIterations(1000), WithSalt([]byte("salt-b")))
	require.NoError(t, err)

	blob, err := a.Encrypt("x")
	require.NoError(t, err)
	_, err = b.Decrypt(blob)
	assert.Error(t, err)
}

func TestVault_Wipe(t *testing.T) {
	v := newTestVault(t, "app-secret")
	blob, err := v.Encrypt("x")
	require.NoError(t, err)

	v.Wipe()

	for _, b := range v.key {
		require.Zero(t, b)
	}
	_, err = v.Encrypt("x")
	assert.Error(t, err)
	_, err = v.Decrypt(blob)
	assert.Error(t, err)
}

func TestNew_RejectsEmptySecret(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, VerifyPassword("correct horse", hash))
	assert.False(t, VerifyPassword("wrong horse", hash))
	assert.False(t, VerifyPassword("", hash))

	_, err = HashPassword("")
	assert.Error(t, err)

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, PasswordCost, cost)

	cheap, err := HashPasswordCost("correct horse", MinPasswordCost)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("correct horse", cheap))
	cost, _ = bcrypt.Cost([]byte(cheap))
	assert.Equal(t, MinPasswordCost, cost)
}
