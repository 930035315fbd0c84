package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/account/entity"
	acctrepo "github.com/claudiohpo/Relatorio-KM/internal/account/repo"
	"github.com/claudiohpo/Relatorio-KM/internal/notify"
	"github.com/claudiohpo/Relatorio-KM/internal/tenant"
)

const (
	// MaxLoginAttempts failed logins in a row trigger a lockout.
	MaxLoginAttempts = 5
	// LockoutDuration is the self-healing cooldown after a lockout.
	LockoutDuration = 60 * time.Second
	// ResetTokenTTL bounds the life of an issued reset token.
	ResetTokenTTL = time.Hour
	// MinPasswordLength applies to reset and change-password flows.
	MinPasswordLength = 6
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAccountMismatch deliberately covers unknown username, unknown
	// email and a username/email pair that does not match.
	ErrAccountMismatch = errors.New("no account matches the provided data")
	// ErrTokenInvalid deliberately covers unknown account, wrong token
	// and expired token.
	ErrTokenInvalid      = errors.New("reset link is invalid or expired")
	ErrPasswordTooShort  = fmt.Errorf("password must have at least %d characters", MinPasswordLength)
	ErrPasswordUnchanged = errors.New("new password must differ from the current one")
	ErrForbidden         = errors.New("not allowed to change this account")
)

// LockedError rejects a login while the lockout window is open. Until is
// surfaced to the client so it can show the remaining wait.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// accountStore is the slice of the repository the service needs; the
// sqlx-backed repo satisfies it, tests substitute an in-memory fake.
type accountStore interface {
	Create(ctx context.Context, a *entity.Account) (int64, error)
	GetByUsername(ctx context.Context, username string) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	SetFailedAttempts(ctx context.Context, id int64, attempts int) error
	Lock(ctx context.Context, id int64, until time.Time) error
	ClearLock(ctx context.Context, id int64) error
	UpgradePasswordHash(ctx context.Context, id int64, hash string) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiresAt time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// AccountService orchestrates registration, credential verification,
// lockout and the reset-token lifecycle.
type AccountService struct {
	store    accountStore
	hasher   PasswordHasher
	notifier notify.Notifier
	logger   *zap.SugaredLogger
	baseURL  string
	now      func() time.Time
}

func NewAccountService(db *sqlx.DB, notifier notify.Notifier, logger *zap.SugaredLogger, baseURL string) *AccountService {
	return &AccountService{
		store:    acctrepo.NewAccountRepo(db),
		hasher:   BcryptHasher{Cost: BcryptCost},
		notifier: notifier,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

func normalizeEmail(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	if e == "" {
		return ""
	}
	if _, err := mail.ParseAddress(e); err != nil {
		return ""
	}
	return e
}

// Register creates an account with zeroed lockout and reset state.
func (s *AccountService) Register(ctx context.Context, username, email, password string) error {
	u := tenant.Normalize(username)
	e := normalizeEmail(email)
	if u == "" || e == "" || password == "" {
		return ErrInvalidInput
	}

	// two independent uniqueness checks; the unique constraints remain
	// the backstop for concurrent registrations
	if _, err := s.store.GetByUsername(ctx, u); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := s.store.GetByEmail(ctx, e); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	_, err = s.store.Create(ctx, &entity.Account{Username: u, Email: e, PasswordHash: hash})
	var dup *acctrepo.ErrDuplicate
	if errors.As(err, &dup) {
		if strings.Contains(dup.Constraint, "email") {
			return ErrEmailTaken
		}
		return ErrUsernameTaken
	}
	if err != nil {
		return err
	}
	s.logger.Infow("account registered", "username", u)
	return nil
}

// Login verifies credentials under the lockout state machine. Unknown
// accounts and wrong passwords are indistinguishable. A *LockedError is
// returned while the lock window is open, without consulting the password.
func (s *AccountService) Login(ctx context.Context, username, password string) error {
	u := tenant.Normalize(username)
	if u == "" || password == "" {
		return ErrInvalidCredentials
	}
	acct, err := s.store.GetByUsername(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidCredentials
		}
		return err
	}

	now := s.now()
	if acct.LockedUntil != nil {
		if acct.LockedUntil.After(now) {
			return &LockedError{Until: *acct.LockedUntil}
		}
		// lazy LOCKED -> OPEN transition
		if err := s.store.ClearLock(ctx, acct.ID); err != nil {
			return err
		}
		acct.LockedUntil = nil
		acct.FailedLoginAttempts = 0
	}

	ok, upgraded := VerifyCredential(s.hasher, password, acct.PasswordHash)
	if !ok {
		attempts := acct.FailedLoginAttempts + 1
		if attempts >= MaxLoginAttempts {
			until := now.Add(LockoutDuration)
			if err := s.store.Lock(ctx, acct.ID, until); err != nil {
				return err
			}
			s.logger.Warnw("account locked after repeated failures", "username", u, "until", until)
			return &LockedError{Until: until}
		}
		if err := s.store.SetFailedAttempts(ctx, acct.ID, attempts); err != nil {
			return err
		}
		return ErrInvalidCredentials
	}

	if upgraded != "" {
		// one-time silent migration of a legacy credential
		if err := s.store.UpgradePasswordHash(ctx, acct.ID, upgraded); err != nil {
			return err
		}
		s.logger.Infow("legacy credential migrated to hash", "username", u)
	}
	if acct.FailedLoginAttempts > 0 {
		if err := s.store.ClearLock(ctx, acct.ID); err != nil {
			return err
		}
	}
	return nil
}

// Recover issues a reset token when username and email both match, and
// mails the reset link. Any mismatch maps to the same ErrAccountMismatch.
func (s *AccountService) Recover(ctx context.Context, username, email string) error {
	u := tenant.Normalize(username)
	e := normalizeEmail(email)
	if u == "" || e == "" {
		return ErrInvalidInput
	}
	acct, err := s.store.GetByUsername(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccountMismatch
		}
		return err
	}
	if !strings.EqualFold(acct.Email, e) {
		return ErrAccountMismatch
	}

	token, err := NewResetToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(ResetTokenTTL)
	// overwrites any outstanding token: one pending token per account
	if err := s.store.SetResetToken(ctx, acct.ID, HashResetToken(token), expires); err != nil {
		return err
	}

	link := fmt.Sprintf("%s/reset.html?token=%s&u=%s", s.baseURL, token, u)
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Open the link below to choose a new password. The link is valid for %d minutes and can be used once.\n\n%s\n\n"+
			"If you did not request this, ignore this message.",
		int(ResetTokenTTL.Minutes()), link)
	if err := s.notifier.Send(ctx, acct.Email, "Password reset", body); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	s.logger.Infow("reset token issued", "username", u, "expires", expires)
	return nil
}

// tokenValid checks the presented token against the stored hash and
// expiry without consuming it.
func (s *AccountService) tokenValid(acct *entity.Account, token string) bool {
	if acct.ResetTokenHash == nil || acct.ResetTokenExpiresAt == nil || token == "" {
		return false
	}
	if !acct.ResetTokenExpiresAt.After(s.now()) {
		return false
	}
	return tokenHashEqual(*acct.ResetTokenHash, token)
}

// VerifyResetToken is the read-only pre-flight check used by the reset
// page before showing the form. It does not consume the token.
func (s *AccountService) VerifyResetToken(ctx context.Context, username, token string) error {
	u := tenant.Normalize(username)
	if u == "" {
		return ErrTokenInvalid
	}
	acct, err := s.store.GetByUsername(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenInvalid
		}
		return err
	}
	if !s.tokenValid(acct, token) {
		return ErrTokenInvalid
	}
	return nil
}

// ResetPassword consumes a valid token: stores the new hash and clears
// reset-token and lockout state together. On failure nothing mutates.
func (s *AccountService) ResetPassword(ctx context.Context, username, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	u := tenant.Normalize(username)
	if u == "" {
		return ErrTokenInvalid
	}
	acct, err := s.store.GetByUsername(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTokenInvalid
		}
		return err
	}
	if !s.tokenValid(acct, token) {
		return ErrTokenInvalid
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return err
	}
	s.logger.Infow("password reset completed", "username", u)
	return nil
}

// ChangePassword requires the caller identity to equal the target
// username; this is the only authorization check in the system.
func (s *AccountService) ChangePassword(ctx context.Context, caller, username, currentPassword, newPassword string) error {
	u := tenant.Normalize(username)
	if u == "" || currentPassword == "" {
		return ErrInvalidInput
	}
	if tenant.Normalize(caller) != u {
		return ErrForbidden
	}
	if len(newPassword) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if newPassword == currentPassword {
		return ErrPasswordUnchanged
	}
	acct, err := s.store.GetByUsername(ctx, u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidCredentials
		}
		return err
	}
	ok, _ := VerifyCredential(s.hasher, currentPassword, acct.PasswordHash)
	if !ok {
		return ErrInvalidCredentials
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return err
	}
	s.logger.Infow("password changed", "username", u)
	return nil
}
