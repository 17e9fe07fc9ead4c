package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	hashIterations = 10000
	hashKeyLen     = 32
	saltLen        = 16
)

// HashPassword derives a PBKDF2-SHA256 hash with a fresh random salt.
// Both values are hex-encoded for storage.
func HashPassword(password string) (hash, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), rawSalt, hashIterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(rawSalt), nil
}

// VerifyPassword recomputes the hash with the stored salt and compares in
// constant time.
func VerifyPassword(password, storedHash, storedSalt string) bool {
	rawSalt, err := hex.DecodeString(storedSalt)
	if err != nil {
		return false
	}
	expected, err := hex.DecodeString(storedHash)
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(password), rawSalt, hashIterations, hashKeyLen, sha256.New)
	return subtle.ConstantTimeCompare(key, expected) == 1
}

// NewToken returns n random bytes as hex.
func NewToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
