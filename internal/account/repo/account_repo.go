package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/claudiohpo/Relatorio-KM/internal/account/entity"
)

// ErrDuplicate is returned by Create when a unique constraint fires.
// The constraint name tells the caller which field collided.
type ErrDuplicate struct {
	Constraint string
}

func (e *ErrDuplicate) Error() string { return "duplicate account: " + e.Constraint }

// AccountRepo provides data access for the accounts table using sqlx.
type AccountRepo struct {
	db *sqlx.DB
}

func NewAccountRepo(db *sqlx.DB) *AccountRepo { return &AccountRepo{db: db} }

// EnsureTable creates the accounts table if not exists (idempotent).
func (r *AccountRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email CITEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  failed_login_attempts INT NOT NULL DEFAULT 0,
  locked_until TIMESTAMPTZ,
  reset_token_hash TEXT,
  reset_token_expires_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

type accountRow struct {
	ID                  int64      `db:"id"`
	Username            string     `db:"username"`
	Email               string     `db:"email"`
	PasswordHash        string     `db:"password_hash"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	LockedUntil         *time.Time `db:"locked_until"`
	ResetTokenHash      *string    `db:"reset_token_hash"`
	ResetTokenExpiresAt *time.Time `db:"reset_token_expires_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

func (row *accountRow) toEntity() *entity.Account {
	return &entity.Account{
		ID:                  row.ID,
		Username:            row.Username,
		Email:               row.Email,
		PasswordHash:        row.PasswordHash,
		FailedLoginAttempts: row.FailedLoginAttempts,
		LockedUntil:         row.LockedUntil,
		ResetTokenHash:      row.ResetTokenHash,
		ResetTokenExpiresAt: row.ResetTokenExpiresAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

const accountColumns = `id, username, email, password_hash, failed_login_attempts,
	locked_until, reset_token_hash, reset_token_expires_at, created_at, updated_at`

// Create inserts a new account row. Returns the new ID, or *ErrDuplicate
// when the username or email already exists.
func (r *AccountRepo) Create(ctx context.Context, a *entity.Account) (int64, error) {
	const q = `INSERT INTO accounts (username, email, password_hash) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := r.db.GetContext(ctx, &id, q, a.Username, a.Email, a.PasswordHash); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, &ErrDuplicate{Constraint: pqErr.Constraint}
		}
		return 0, err
	}
	a.ID = id
	return id, nil
}

// GetByUsername fetches by normalized username or sql.ErrNoRows.
func (r *AccountRepo) GetByUsername(ctx context.Context, username string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE username=$1`
	var row accountRow
	if err := r.db.GetContext(ctx, &row, q, username); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// GetByEmail fetches by email (case-insensitive via citext) or sql.ErrNoRows.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE email=$1`
	var row accountRow
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// SetFailedAttempts stores the failed-login counter.
func (r *AccountRepo) SetFailedAttempts(ctx context.Context, id int64, attempts int) error {
	const q = `UPDATE accounts SET failed_login_attempts=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, attempts)
	return err
}

// Lock sets locked_until and resets the attempt counter; the lock
// timestamp alone gates access from here on.
func (r *AccountRepo) Lock(ctx context.Context, id int64, until time.Time) error {
	const q = `UPDATE accounts SET locked_until=$2, failed_login_attempts=0, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, until)
	return err
}

// ClearLock clears lockout state after expiry or successful verification.
func (r *AccountRepo) ClearLock(ctx context.Context, id int64) error {
	const q = `UPDATE accounts SET locked_until=NULL, failed_login_attempts=0, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UpgradePasswordHash replaces a legacy stored credential with its hashed
// form. Touches nothing else.
func (r *AccountRepo) UpgradePasswordHash(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE accounts SET password_hash=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash)
	return err
}

// SetResetToken stores the hash and expiry of a freshly issued reset
// token, overwriting any outstanding one.
func (r *AccountRepo) SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error {
	const q = `UPDATE accounts SET reset_token_hash=$2, reset_token_expires_at=$3, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, tokenHash, expiresAt)
	return err
}

// UpdatePassword replaces the password hash and clears both reset-token
// and lockout state in one statement.
func (r *AccountRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	const q = `UPDATE accounts SET password_hash=$2, reset_token_hash=NULL, reset_token_expires_at=NULL,
		failed_login_attempts=0, locked_until=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.db.ExecContext(ctx, q, id, hash)
	return err
}
