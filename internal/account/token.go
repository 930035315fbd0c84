package account

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// resetTokenBytes gives 256 bits of entropy per token.
const resetTokenBytes = 32

// NewResetToken generates the plaintext reset token. It is transmitted
// once inside the reset link and never persisted.
func NewResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashResetToken returns the stored form of a reset token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// tokenHashEqual compares a stored token hash with the hash of a
// presented token in constant time.
func tokenHashEqual(storedHash, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashResetToken(presented))) == 1
}
