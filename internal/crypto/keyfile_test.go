package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKeyfile("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), testKeyHex)

	got, err := DecryptKeyfile(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKeyfile(testKeyHex, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKeyfile(blob, "hunter3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestEncryptRejectsBadInput(t *testing.T) {
	_, err := EncryptKeyfile(testKeyHex, "")
	assert.ErrorContains(t, err, "password")

	_, err = EncryptKeyfile("nothex", "hunter2")
	assert.ErrorContains(t, err, "invalid private key hex")

	_, err = EncryptKeyfile("deadbeef", "hunter2")
	assert.ErrorContains(t, err, "32-byte key")
}

func TestDecryptRejectsUnknownVersion(t *testing.T) {
	blob, err := EncryptKeyfile(testKeyHex, "hunter2")
	require.NoError(t, err)
	tampered := strings.Replace(string(blob), `"version": 1`, `"version": 9`, 1)

	_, err = DecryptKeyfile([]byte(tampered), "hunter2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported keyfile version")
}

func TestResolveKeyRaw(t *testing.T) {
	got, err := ResolveKey(KeySource{RawKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = ResolveKey(KeySource{RawKey: "zz"})
	require.Error(t, err)
}

func TestResolveKeyFromFile(t *testing.T) {
	blob, err := EncryptKeyfile(testKeyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.enc")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err := ResolveKey(KeySource{KeyfilePath: path, Password: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestResolveKeyNoSource(t *testing.T) {
	_, err := ResolveKey(KeySource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key source")
}
