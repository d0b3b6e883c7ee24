package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"linqyard.app/internal/ids"
)

// NewOpaqueSecret generates a high-entropy refresh secret. The plaintext is
// handed to the caller exactly once; only the hash is ever persisted.
func NewOpaqueSecret() (plaintext, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, HashSecret(plaintext), nil
}

// NewVerificationCode generates an 8-character emailable code and its hash.
func NewVerificationCode() (plaintext, hash string, err error) {
	code, err := ids.NewCode(8)
	if err != nil {
		return "", "", err
	}
	return code, HashSecret(code), nil
}

// HashSecret is the persistence form of opaque secrets and verification codes.
// SHA-256 is enough here: the inputs carry full CSPRNG entropy, unlike passwords.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// SecretMatchesHash compares a presented secret against a stored hash in
// constant time.
func SecretMatchesHash(secret, storedHash string) bool {
	actual := HashSecret(secret)
	if len(actual) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(storedHash)) == 1
}
