package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the authentication core.
// Every mutating operation below is a single atomic storage call so that an
// abandoned request can never leave an account half-locked or a session
// half-rotated.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Sessions(ctx context.Context) SessionStore
	ResetChallenges(ctx context.Context) ResetChallengeStore
}

// FailureOutcome is the result of atomically recording a failed login.
type FailureOutcome struct {
	Attempts    int
	LockedUntil time.Time // non-zero when this failure triggered the lockout
}

// AccountStore manages the authentication view of accounts.
type AccountStore interface {
	Find(ctx context.Context, id string) (*Account, error)

	// FindByIdentifier resolves username, email or phone within a tenant.
	// An empty institutionID selects the platform (super-admin) scope.
	FindByIdentifier(ctx context.Context, institutionID, identifier string) (*Account, error)

	// RecordFailure increments the failure counter in one conditional
	// update. When the counter reaches threshold the row transitions to
	// locked_until=lockedUntil with the counter reset, all in the same
	// statement, so concurrent failures never under-count.
	RecordFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (FailureOutcome, error)

	// RecordSuccess clears the failure counter and any lock, and stamps
	// last-login metadata.
	RecordSuccess(ctx context.Context, id, ip string, at time.Time) error

	// UpdatePassword sets a new hash and clears force_password_change plus
	// any lockout state in a single statement.
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	MarkProfileCompleted(ctx context.Context, id string) error
}

// SessionStore manages refresh-token chain links.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)

	// Rotate atomically revokes the session identified by oldID and inserts
	// its replacement in the same transaction. If the old session was
	// already revoked (a concurrent rotation won) it returns ErrTokenReused
	// and inserts nothing.
	Rotate(ctx context.Context, oldID string, replacement *Session) error

	Revoke(ctx context.Context, id string) error
	RevokeAllForAccount(ctx context.Context, accountID string) (int64, error)
}

// ResetChallengeStore manages one-time-code password reset challenges. At
// most one open challenge exists per account.
type ResetChallengeStore interface {
	// Replace removes any existing challenge for the account and stores the
	// new one.
	Replace(ctx context.Context, c *ResetChallenge) error

	FindByAccount(ctx context.Context, accountID string) (*ResetChallenge, error)

	// IncrementAttempts bumps the counter atomically and returns the new
	// value, so concurrent wrong guesses cannot under-count.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	Delete(ctx context.Context, id string) error
}
