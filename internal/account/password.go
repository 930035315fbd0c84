package account

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the fixed work factor for new password hashes.
const BcryptCost = 12

// PasswordHasher defines the minimal hashing interface (abstract so we
// can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = BcryptCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// isRecognizedHash reports whether stored is structurally a bcrypt hash.
// Anything else is treated as a legacy plaintext-equivalent credential.
func isRecognizedHash(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}

// VerifyCredential checks candidate against a stored credential which may
// be a bcrypt hash or a legacy plaintext value. For a legacy match it also
// returns the replacement hash so the caller can persist the one-time
// migration; persistence stays out of the hashing layer. A corrupt hash
// and a wrong password are indistinguishable: both report false.
func VerifyCredential(h PasswordHasher, candidate, stored string) (ok bool, upgraded string) {
	if stored == "" {
		return false, ""
	}
	if isRecognizedHash(stored) {
		return h.Verify(stored, candidate), ""
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) != 1 {
		return false, ""
	}
	newHash, err := h.Hash(candidate)
	if err != nil {
		// match stands even if the upgrade could not be computed
		return true, ""
	}
	return true, newHash
}
