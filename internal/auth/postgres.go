package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. Lockout counting, session rotation
// and OTP attempt counting are expressed as single conditional statements so
// concurrent requests serialize on the row, not in application code.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(ctx context.Context) AccountStore { return &pgAccounts{db: s.db} }
func (s *PGStore) Sessions(ctx context.Context) SessionStore { return &pgSessions{db: s.db} }

func (s *PGStore) ResetChallenges(ctx context.Context) ResetChallengeStore {
	return &pgChallenges{db: s.db}
}

type pgAccounts struct {
	db *sql.DB
}

const accountColumns = `id, coalesce(institution_id, ''), username, coalesce(email, ''), coalesce(phone, ''),
	password_hash, role, coalesce(first_name, ''), coalesce(last_name, ''),
	is_active, force_password_change, profile_completed, two_factor_enabled,
	failed_login_attempts, locked_until, last_login_at, coalesce(last_login_ip, ''),
	created_at, updated_at`

func (s *pgAccounts) Find(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+`
		   from accounts
		  where id = $1 and deleted_at is null`, id)
	return scanAccount(row)
}

func (s *pgAccounts) FindByIdentifier(ctx context.Context, institutionID, identifier string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+accountColumns+`
		   from accounts
		  where coalesce(institution_id, '') = $1
		    and (username = $2 or email = $2 or phone = $2)
		    and deleted_at is null`, institutionID, identifier)
	return scanAccount(row)
}

func (s *pgAccounts) RecordFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (FailureOutcome, error) {
	// One conditional update: either bump the counter or, when this failure
	// reaches the threshold, reset it and set the lock. RETURNING reports
	// which branch the row took.
	row := s.db.QueryRowContext(ctx,
		`update accounts
		    set failed_login_attempts = case
		            when failed_login_attempts + 1 >= $2 then 0
		            else failed_login_attempts + 1
		        end,
		        locked_until = case
		            when failed_login_attempts + 1 >= $2 then $3
		            else locked_until
		        end,
		        updated_at = now()
		  where id = $1 and deleted_at is null
		returning failed_login_attempts, locked_until`,
		id, threshold, lockedUntil)

	var (
		outcome FailureOutcome
		locked  sql.NullTime
	)
	if err := row.Scan(&outcome.Attempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailureOutcome{}, ErrNotFound
		}
		return FailureOutcome{}, err
	}
	if outcome.Attempts == 0 && locked.Valid {
		outcome.LockedUntil = locked.Time.UTC()
	}
	return outcome, nil
}

func (s *pgAccounts) RecordSuccess(ctx context.Context, id, ip string, at time.Time) error {
	return s.exec(ctx,
		`update accounts
		    set failed_login_attempts = 0,
		        locked_until = null,
		        last_login_at = $2,
		        last_login_ip = $3,
		        updated_at = now()
		  where id = $1 and deleted_at is null`,
		id, at, nullString(ip))
}

func (s *pgAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx,
		`update accounts
		    set password_hash = $2,
		        force_password_change = false,
		        failed_login_attempts = 0,
		        locked_until = null,
		        updated_at = now()
		  where id = $1 and deleted_at is null`,
		id, passwordHash)
}

func (s *pgAccounts) MarkProfileCompleted(ctx context.Context, id string) error {
	return s.exec(ctx,
		`update accounts
		    set profile_completed = true,
		        updated_at = now()
		  where id = $1 and deleted_at is null`, id)
}

func (s *pgAccounts) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		acct        Account
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(
		&acct.ID, &acct.InstitutionID, &acct.Username, &acct.Email, &acct.Phone,
		&acct.PasswordHash, &acct.Role, &acct.FirstName, &acct.LastName,
		&acct.Active, &acct.ForcePasswordChange, &acct.ProfileCompleted, &acct.TwoFactorEnabled,
		&acct.FailedAttempts, &lockedUntil, &lastLogin, &acct.LastLoginIP,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		acct.LockedUntil = lockedUntil.Time.UTC()
	}
	if lastLogin.Valid {
		acct.LastLoginAt = lastLogin.Time.UTC()
	}
	return &acct, nil
}

type pgSessions struct {
	db *sql.DB
}

const sessionColumns = `id, account_id, token_hash, coalesce(fingerprint, ''), coalesce(ip, ''),
	coalesce(user_agent, ''), issued_at, expires_at, revoked, revoked_at`

const insertSessionSQL = `insert into sessions
	(id, account_id, token_hash, fingerprint, ip, user_agent, issued_at, expires_at)
	values ($1, $2, $3, $4, $5, $6, $7, $8)`

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, insertSessionSQL,
		sess.ID, sess.AccountID, sess.TokenHash,
		nullString(sess.Fingerprint), nullString(sess.IP), nullString(sess.UserAgent),
		sess.IssuedAt, sess.ExpiresAt)
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id = $1`, id)

	var (
		sess      Session
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&sess.ID, &sess.AccountID, &sess.TokenHash, &sess.Fingerprint, &sess.IP,
		&sess.UserAgent, &sess.IssuedAt, &sess.ExpiresAt, &sess.Revoked, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		sess.RevokedAt = revokedAt.Time.UTC()
	}
	return &sess, nil
}

func (s *pgSessions) Rotate(ctx context.Context, oldID string, replacement *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The conditional revoke is the rotation race arbiter: exactly one of two
	// concurrent rotations of the same token sees RowsAffected == 1.
	res, err := tx.ExecContext(ctx,
		`update sessions
		    set revoked = true, revoked_at = now(), replaced_by = $2
		  where id = $1 and not revoked`, oldID, replacement.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTokenReused
	}

	if _, err := tx.ExecContext(ctx, insertSessionSQL,
		replacement.ID, replacement.AccountID, replacement.TokenHash,
		nullString(replacement.Fingerprint), nullString(replacement.IP), nullString(replacement.UserAgent),
		replacement.IssuedAt, replacement.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgSessions) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions
		    set revoked = true, revoked_at = now()
		  where id = $1 and not revoked`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessions) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions
		    set revoked = true, revoked_at = now()
		  where account_id = $1 and not revoked`, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type pgChallenges struct {
	db *sql.DB
}

const challengeColumns = `id, account_id, otp_hash, channel, expires_at, attempt_count, max_attempts, created_at`

func (s *pgChallenges) Replace(ctx context.Context, c *ResetChallenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`delete from password_reset_challenges where account_id = $1`, c.AccountID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into password_reset_challenges
		 (id, account_id, otp_hash, channel, expires_at, max_attempts, created_at)
		 values ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.AccountID, c.OTPHash, c.Channel, c.ExpiresAt, c.MaxAttempts, c.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgChallenges) FindByAccount(ctx context.Context, accountID string) (*ResetChallenge, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+challengeColumns+`
		   from password_reset_challenges
		  where account_id = $1`, accountID)

	var c ResetChallenge
	err := row.Scan(
		&c.ID, &c.AccountID, &c.OTPHash, &c.Channel,
		&c.ExpiresAt, &c.AttemptCount, &c.MaxAttempts, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *pgChallenges) IncrementAttempts(ctx context.Context, id string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`update password_reset_challenges
		    set attempt_count = attempt_count + 1
		  where id = $1
		returning attempt_count`, id)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (s *pgChallenges) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from password_reset_challenges where id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
