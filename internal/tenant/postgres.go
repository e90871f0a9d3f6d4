package tenant

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const institutionColumns = `id, name, subdomain, coalesce(custom_domain, ''), is_active,
	single_device_login, max_login_attempts, lockout_duration_minutes, created_at, updated_at`

func (s *PGStore) BySubdomain(ctx context.Context, subdomain string) (*Institution, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+institutionColumns+`
		   from institutions
		  where subdomain = $1 and deleted_at is null`, subdomain)
	return scanInstitution(row)
}

func (s *PGStore) ByCustomDomain(ctx context.Context, domain string) (*Institution, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+institutionColumns+`
		   from institutions
		  where custom_domain = $1 and custom_domain_verified and deleted_at is null`, domain)
	return scanInstitution(row)
}

func scanInstitution(row *sql.Row) (*Institution, error) {
	var (
		inst           Institution
		lockoutMinutes int
	)
	err := row.Scan(
		&inst.ID, &inst.Name, &inst.Subdomain, &inst.CustomDomain, &inst.Active,
		&inst.SingleDeviceLogin, &inst.MaxLoginAttempts, &lockoutMinutes,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inst.LockoutDuration = time.Duration(lockoutMinutes) * time.Minute
	return &inst, nil
}
