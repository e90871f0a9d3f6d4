package auth

import "time"

// Roles known to the platform. Authorization-rule catalogs live downstream;
// this core only carries the role inside tokens and exposes set membership.
const (
	RoleSuperAdmin       = "super_admin"
	RoleInstitutionAdmin = "institution_admin"
	RoleFaculty          = "faculty"
	RoleStudent          = "student"
	RoleLibrarian        = "librarian"
	RoleParent           = "parent"
	RoleGuest            = "guest"
)

// Account is the authentication view of a user. Provisioning creates it; this
// core mutates only the security fields (failure counter, lock, password hash,
// state flags) and never hard-deletes.
type Account struct {
	ID            string
	InstitutionID string // empty for the platform super-admin scope
	Username      string
	Email         string
	Phone         string
	PasswordHash  string
	Role          string
	FirstName     string
	LastName      string

	Active              bool
	ForcePasswordChange bool
	ProfileCompleted    bool
	TwoFactorEnabled    bool

	FailedAttempts int
	LockedUntil    time.Time // zero when not locked
	LastLoginAt    time.Time
	LastLoginIP    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is suspended at the given instant.
// Expiry is lazy: nothing clears LockedUntil until the next successful
// authentication.
func (a *Account) Locked(now time.Time) bool {
	return !a.LockedUntil.IsZero() && a.LockedUntil.After(now)
}

// Session is one link of a refresh-token chain. The raw refresh token is
// never persisted; only a salted hash of its secret half is stored.
type Session struct {
	ID          string
	AccountID   string
	TokenHash   string
	Fingerprint string
	IP          string
	UserAgent   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   time.Time
}

// ResetChallenge is a short-lived, attempt-limited one-time code authorizing
// a password reset without prior authentication. The code itself is stored
// only as a hash.
type ResetChallenge struct {
	ID           string
	AccountID    string
	OTPHash      string
	Channel      string
	ExpiresAt    time.Time
	AttemptCount int
	MaxAttempts  int
	CreatedAt    time.Time
}

// Expired reports whether the challenge TTL has elapsed.
func (c *ResetChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// TokenPair is the result of login or refresh rotation.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ClientInfo carries per-request caller metadata used for session records and
// audit events.
type ClientInfo struct {
	IP          string
	UserAgent   string
	Fingerprint string
}
