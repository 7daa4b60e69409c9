package cryptox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	k1 := DeriveMasterKey([]byte("password"), salt)
	k2 := DeriveMasterKey([]byte("password"), salt)
	k3 := DeriveMasterKey([]byte("other"), salt)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveRecordKey_PepperChangesKey(t *testing.T) {
	master := DeriveMasterKey([]byte("password"), []byte("salt-salt-salt-!"))
	k1 := DeriveRecordKey(master, []byte("pepper-a"))
	k2 := DeriveRecordKey(master, []byte("pepper-b"))

	assert.Len(t, k1, 32)
	assert.NotEqual(t, k1, k2)
}

func TestVerifierMatches(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	v := MakeVerifier(key)
	assert.True(t, VerifierMatches(v, MakeVerifier(key)))
	assert.False(t, VerifierMatches(v, MakeVerifier([]byte("xx23456789abcdef0123456789abcdef"))))
}

func TestEncryptDecryptRecord_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	in := record{Name: "Mia", Age: 7}

	ct, nonce, err := EncryptRecord(in, key)
	require.NoError(t, err)
	require.Len(t, nonce, 12)

	var out record
	require.NoError(t, DecryptRecord(ct, nonce, key, &out))
	assert.Equal(t, in, out)
}

func TestDecryptRecord_WrongKeyFails(t *testing.T) {
	key := make([]byte, 32)
	ct, nonce, err := EncryptRecord(record{Name: "Mia"}, key)
	require.NoError(t, err)

	other := make([]byte, 32)
	other[0] = 1

	var out record
	assert.Error(t, DecryptRecord(ct, nonce, other, &out))
}

func TestDecryptRecord_TamperFails(t *testing.T) {
	key := make([]byte, 32)
	ct, nonce, err := EncryptRecord(record{Name: "Mia"}, key)
	require.NoError(t, err)

	ct[0] ^= 0xff

	var out record
	assert.Error(t, DecryptRecord(ct, nonce, key, &out))
}

func TestLoadOrCreatePepper(t *testing.T) {
	dir := t.TempDir()

	p1, err := LoadOrCreatePepper(dir)
	require.NoError(t, err)
	assert.Len(t, p1, 32)

	// second call returns the same pepper
	p2, err := LoadOrCreatePepper(dir)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestLoadOrCreatePepper_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".device_pepper"), []byte("short"), 0o600))

	_, err := LoadOrCreatePepper(dir)
	assert.Error(t, err)
}
