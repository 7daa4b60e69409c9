// Package cryptox implements key derivation and at-rest encryption for
// profile records. The parent password is stretched with Argon2id, then the
// resulting master key is mixed with a device-local pepper so that profile
// stores from two installations are not interchangeable even with the same
// password.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// pepperIterations matches the PBKDF2 work factor used for the device-bound
// key mix. The pepper is random, so the iteration count is not a hardening
// measure against brute force here; it keeps the derivation shape uniform
// with the password path.
const pepperIterations = 100_000

// DeriveMasterKey stretches the parent password with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// DeriveRecordKey mixes the master key with the device pepper, producing the
// AES-256 key that actually encrypts profile records.
func DeriveRecordKey(masterKey, pepper []byte) []byte {
	return pbkdf2.Key(masterKey, pepper, pepperIterations, 32, sha256.New)
}

// MakeVerifier returns the stored verifier for a derived key. The raw key is
// never persisted.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}

// VerifierMatches compares a stored verifier with a candidate in constant time.
func VerifierMatches(verifier, candidate []byte) bool {
	return subtle.ConstantTimeCompare(verifier, candidate) == 1
}

// EncryptRecord serializes v to JSON and encrypts it with AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes). A new random
// 12-byte nonce is generated for each encryption; ciphertext and nonce are
// returned separately so the caller controls the on-disk framing.
func EncryptRecord(v any, key []byte) (ciphertext, nonce []byte, err error) {

	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// EncryptBytes encrypts a raw byte payload with AES-GCM. Same framing as
// EncryptRecord, without the JSON step; used for backup archives.
func EncryptBytes(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// DecryptBytes reverses EncryptBytes.
func DecryptBytes(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}

// DecryptRecord decrypts ciphertext produced by EncryptRecord and unmarshals
// the resulting JSON into v. The key and nonce must match the ones used at
// encryption time; any tampering fails GCM authentication.
func DecryptRecord(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}
