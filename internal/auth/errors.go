package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("auth: not found")

	// ErrInvalidCredentials is deliberately generic: the caller learns
	// nothing about whether the account exists, is disabled, or the secret
	// was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked is the lockout sentinel; the concrete error carries
	// the remaining duration (see LockedError).
	ErrAccountLocked = errors.New("auth: account locked")

	// ErrAccountInactive means the token verified but the account has been
	// disabled since issuance.
	ErrAccountInactive = errors.New("auth: account inactive")

	ErrTokenInvalid = errors.New("auth: token invalid")
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrTokenReused means a refresh token that was already rotated was
	// presented again. Treated as a security signal: the whole chain is
	// revoked.
	ErrTokenReused = errors.New("auth: refresh token reused")

	ErrOTPInvalid         = errors.New("auth: invalid one-time code")
	ErrOTPExpired         = errors.New("auth: one-time code expired")
	ErrTooManyOTPAttempts = errors.New("auth: too many one-time code attempts")
)

// LockedError reports an account lockout together with the remaining
// suspension. errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
