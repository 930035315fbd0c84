package entity

import "time"

// Account represents a row in the `accounts` table. Usernames are stored
// normalized (lowercase, [a-z0-9_-]+) and double as the tenant identity
// that selects the user's trip-record partition.
type Account struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string

	// Lockout state: once FailedLoginAttempts reaches the threshold the
	// counter resets to zero and LockedUntil alone gates access.
	FailedLoginAttempts int
	LockedUntil         *time.Time

	// At most one outstanding reset token; only its hash is stored.
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
