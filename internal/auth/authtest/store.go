// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"sync"
	"time"

	"scholarbridge.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

// Store is a mutex-guarded in-memory implementation of auth.Store with the
// same atomicity guarantees the SQL implementation provides.
type Store struct {
	mu         sync.Mutex
	accounts   map[string]*auth.Account
	sessions   map[string]*auth.Session
	challenges map[string]*auth.ResetChallenge // keyed by account id
}

func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*auth.Account),
		sessions:   make(map[string]*auth.Session),
		challenges: make(map[string]*auth.ResetChallenge),
	}
}

// Seed inserts or replaces an account.
func (s *Store) Seed(acct *auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ID] = &cp
}

// AccountByID returns a copy of the stored account for assertions.
func (s *Store) AccountByID(id string) (*auth.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	cp := *acct
	return &cp, true
}

// SessionByID returns a copy of the stored session for assertions.
func (s *Store) SessionByID(id string) (*auth.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

// ActiveSessions counts non-revoked sessions for the account.
func (s *Store) ActiveSessions(accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && !sess.Revoked {
			n++
		}
	}
	return n
}

// ChallengeByAccount returns a copy of the open challenge for assertions.
func (s *Store) ChallengeByAccount(accountID string) (*auth.ResetChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[accountID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// SetChallenge installs a challenge directly, bypassing the reset flow.
func (s *Store) SetChallenge(c *auth.ResetChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.AccountID] = &cp
}

func (s *Store) Accounts(ctx context.Context) auth.AccountStore { return (*memAccounts)(s) }
func (s *Store) Sessions(ctx context.Context) auth.SessionStore { return (*memSessions)(s) }

func (s *Store) ResetChallenges(ctx context.Context) auth.ResetChallengeStore {
	return (*memChallenges)(s)
}

type memAccounts Store

func (s *memAccounts) Find(ctx context.Context, id string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *memAccounts) FindByIdentifier(ctx context.Context, institutionID, identifier string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.InstitutionID != institutionID {
			continue
		}
		if acct.Username == identifier || (acct.Email != "" && acct.Email == identifier) ||
			(acct.Phone != "" && acct.Phone == identifier) {
			cp := *acct
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *memAccounts) RecordFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (auth.FailureOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.FailureOutcome{}, auth.ErrNotFound
	}
	if acct.FailedAttempts+1 >= threshold {
		acct.FailedAttempts = 0
		acct.LockedUntil = lockedUntil
		return auth.FailureOutcome{Attempts: 0, LockedUntil: lockedUntil}, nil
	}
	acct.FailedAttempts++
	return auth.FailureOutcome{Attempts: acct.FailedAttempts}, nil
}

func (s *memAccounts) RecordSuccess(ctx context.Context, id, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.FailedAttempts = 0
	acct.LockedUntil = time.Time{}
	acct.LastLoginAt = at
	acct.LastLoginIP = ip
	return nil
}

func (s *memAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.PasswordHash = passwordHash
	acct.ForcePasswordChange = false
	acct.FailedAttempts = 0
	acct.LockedUntil = time.Time{}
	return nil
}

func (s *memAccounts) MarkProfileCompleted(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return auth.ErrNotFound
	}
	acct.ProfileCompleted = true
	return nil
}

type memSessions Store

func (s *memSessions) Create(ctx context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Find(ctx context.Context, id string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) Rotate(ctx context.Context, oldID string, replacement *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.sessions[oldID]
	if !ok {
		return auth.ErrNotFound
	}
	if old.Revoked {
		return auth.ErrTokenReused
	}
	old.Revoked = true
	old.RevokedAt = time.Now().UTC()
	cp := *replacement
	s.sessions[replacement.ID] = &cp
	return nil
}

func (s *memSessions) Revoke(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Revoked {
		return auth.ErrNotFound
	}
	sess.Revoked = true
	sess.RevokedAt = time.Now().UTC()
	return nil
}

func (s *memSessions) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && !sess.Revoked {
			sess.Revoked = true
			sess.RevokedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

type memChallenges Store

func (s *memChallenges) Replace(ctx context.Context, c *auth.ResetChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.challenges[c.AccountID] = &cp
	return nil
}

func (s *memChallenges) FindByAccount(ctx context.Context, accountID string) (*auth.ResetChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[accountID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memChallenges) IncrementAttempts(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.challenges {
		if c.ID == id {
			c.AttemptCount++
			return c.AttemptCount, nil
		}
	}
	return 0, auth.ErrNotFound
}

func (s *memChallenges) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for accountID, c := range s.challenges {
		if c.ID == id {
			delete(s.challenges, accountID)
			return nil
		}
	}
	return nil
}
