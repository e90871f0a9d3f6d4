// Package auth implements the multi-tenant authentication and
// session-lifecycle engine: credential verification, lockout policy, token
// issuance, refresh rotation and the OTP password-reset flow.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"scholarbridge.org/internal/audit"
	"scholarbridge.org/internal/ids"
	"scholarbridge.org/internal/notify"
	"scholarbridge.org/internal/obs"
	"scholarbridge.org/internal/tenant"
)

// Session revocation reasons, used for metrics and audit fields.
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonRotation       = "rotation"
	RevokeReasonNewDevice      = "new_device"
	RevokeReasonPasswordChange = "password_change"
	RevokeReasonPasswordReset  = "password_reset"
	RevokeReasonReuse          = "reuse"
)

// Config carries the security policy knobs of the engine. Institutions may
// override the lockout numbers and the single-device toggle per tenant.
type Config struct {
	RefreshTTL           time.Duration
	LockoutThreshold     int
	LockoutDuration      time.Duration
	OTPTTL               time.Duration
	OTPMaxAttempts       int
	OTPDigits            int
	SingleDeviceSessions bool
}

// Service drives every authentication state transition. All session and
// lockout state lives in the Store; the service itself holds no mutable
// security state across requests.
type Service struct {
	store      Store
	tokens     *TokenManager
	dispatcher *notify.Dispatcher
	cfg        Config
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs the engine.
func NewService(store Store, tokens *TokenManager, dispatcher *notify.Dispatcher, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token manager is required")
	}
	if cfg.RefreshTTL <= 0 || cfg.LockoutThreshold < 1 || cfg.LockoutDuration <= 0 ||
		cfg.OTPTTL <= 0 || cfg.OTPMaxAttempts < 1 || cfg.OTPDigits < 4 {
		return nil, errors.New("auth: invalid policy configuration")
	}
	svc := &Service{
		store:      store,
		tokens:     tokens,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginInput carries a credential-verification request.
type LoginInput struct {
	Institution *tenant.Institution // nil for the platform super-admin scope
	Identifier  string
	Password    string
	Client      ClientInfo
}

// LoginResult is returned on successful authentication so the caller can
// route the client through any pending mandatory transitions.
type LoginResult struct {
	Account *Account
	Tokens  TokenPair
}

// Login verifies credentials within tenant scope and issues a fresh token
// pair. Lockout is evaluated before the secret is hashed.
func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		obs.RecordLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	accounts := s.store.Accounts(ctx)
	acct, err := accounts.FindByIdentifier(ctx, institutionID(in.Institution), identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RecordLogin("invalid")
			_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{
				"identifier": identifier,
				"reason":     "unknown_account",
			})
			return nil, ErrInvalidCredentials
		}
		obs.RecordLogin("error")
		return nil, fmt.Errorf("find account: %w", err)
	}

	ctx = audit.WithAccount(ctx, acct.ID)

	if !acct.Active {
		obs.RecordLogin("invalid")
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{"reason": "inactive"})
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if acct.Locked(now) {
		obs.RecordLogin("locked")
		_ = audit.LogEvent(ctx, "auth.login.rejected_locked", map[string]any{
			"locked_until": acct.LockedUntil.Format(time.RFC3339),
		})
		return nil, &LockedError{RetryAfter: acct.LockedUntil.Sub(now)}
	}

	if err := VerifyPassword(acct.PasswordHash, in.Password); err != nil {
		return nil, s.recordLoginFailure(ctx, acct, in.Institution, now)
	}

	if err := accounts.RecordSuccess(ctx, acct.ID, in.Client.IP, now); err != nil {
		obs.RecordLogin("error")
		return nil, fmt.Errorf("record login success: %w", err)
	}
	acct.FailedAttempts = 0
	acct.LockedUntil = time.Time{}
	acct.LastLoginAt = now
	acct.LastLoginIP = in.Client.IP

	pair, err := s.issueSession(ctx, acct, in.Institution, in.Client)
	if err != nil {
		obs.RecordLogin("error")
		return nil, err
	}

	obs.RecordLogin("success")
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"role": acct.Role})
	return &LoginResult{Account: acct, Tokens: pair}, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, acct *Account, inst *tenant.Institution, now time.Time) error {
	threshold := s.lockoutThreshold(inst)
	lockedUntil := now.Add(s.lockoutDuration(inst))

	outcome, err := s.store.Accounts(ctx).RecordFailure(ctx, acct.ID, threshold, lockedUntil)
	if err != nil {
		obs.RecordLogin("error")
		return fmt.Errorf("record login failure: %w", err)
	}

	if !outcome.LockedUntil.IsZero() {
		obs.RecordLockout()
		_ = audit.LogEvent(ctx, "auth.account.locked", map[string]any{
			"locked_until": outcome.LockedUntil.Format(time.RFC3339),
			"threshold":    threshold,
		})
	} else {
		_ = audit.LogEvent(ctx, "auth.login.failed", map[string]any{
			"reason":   "bad_password",
			"attempts": outcome.Attempts,
		})
	}
	obs.RecordLogin("invalid")
	return ErrInvalidCredentials
}

// Refresh rotates a refresh token: the presented session is revoked and its
// replacement issued in one transaction. Replaying an already-rotated token
// revokes the whole chain.
func (s *Service) Refresh(ctx context.Context, inst *tenant.Institution, refreshToken string, client ClientInfo) (*LoginResult, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		obs.RecordRefresh("invalid")
		return nil, ErrTokenInvalid
	}

	sessions := s.store.Sessions(ctx)
	sess, err := sessions.Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RecordRefresh("invalid")
			return nil, ErrTokenInvalid
		}
		obs.RecordRefresh("error")
		return nil, fmt.Errorf("find session: %w", err)
	}

	ctx = audit.WithAccount(ctx, sess.AccountID)

	if sess.Revoked {
		return nil, s.handleTokenReuse(ctx, sess)
	}

	now := s.now().UTC()
	if now.After(sess.ExpiresAt) {
		obs.RecordRefresh("invalid")
		return nil, ErrTokenExpired
	}
	if !secretMatchesHash(secret, sess.TokenHash) {
		// Valid session id with the wrong secret: burn the session.
		_ = sessions.Revoke(ctx, sess.ID)
		obs.RecordRefresh("invalid")
		_ = audit.LogEvent(ctx, "auth.refresh.secret_mismatch", nil)
		return nil, ErrTokenInvalid
	}

	acct, err := s.store.Accounts(ctx).Find(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.RecordRefresh("invalid")
			return nil, ErrTokenInvalid
		}
		obs.RecordRefresh("error")
		return nil, fmt.Errorf("find account: %w", err)
	}
	if !acct.Active {
		obs.RecordRefresh("invalid")
		return nil, ErrAccountInactive
	}
	if inst != nil && acct.InstitutionID != inst.ID {
		obs.RecordRefresh("invalid")
		_ = audit.LogEvent(ctx, "auth.refresh.tenant_mismatch", nil)
		return nil, ErrTokenInvalid
	}

	replacement, rawToken, err := s.newSession(acct.ID, client, now)
	if err != nil {
		obs.RecordRefresh("error")
		return nil, err
	}
	if err := sessions.Rotate(ctx, sess.ID, replacement); err != nil {
		if errors.Is(err, ErrTokenReused) {
			// Lost a concurrent rotation race on the same token.
			return nil, s.handleTokenReuse(ctx, sess)
		}
		obs.RecordRefresh("error")
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	obs.RecordSessionsRevoked(RevokeReasonRotation, 1)

	accessToken, accessExp, err := s.tokens.Sign(acct, replacement.ID)
	if err != nil {
		obs.RecordRefresh("error")
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	obs.RecordRefresh("success")
	return &LoginResult{
		Account: acct,
		Tokens: TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     rawToken,
			AccessExpiresAt:  accessExp,
			RefreshExpiresAt: replacement.ExpiresAt,
		},
	}, nil
}

func (s *Service) handleTokenReuse(ctx context.Context, sess *Session) error {
	revoked, err := s.store.Sessions(ctx).RevokeAllForAccount(ctx, sess.AccountID)
	if err != nil {
		obs.LogJSON("error", "reuse_chain_revoke_failed", map[string]any{
			"account_id": sess.AccountID,
			"error":      err.Error(),
		})
	} else {
		obs.RecordSessionsRevoked(RevokeReasonReuse, revoked)
	}
	obs.RecordRefresh("reused")
	_ = audit.LogEvent(ctx, "auth.token.reused", map[string]any{
		"session_id": sess.ID,
	})
	return ErrTokenReused
}

// Logout revokes exactly the session named by the caller's access token.
func (s *Service) Logout(ctx context.Context, principal Principal) error {
	if principal.Claims == nil || principal.Claims.SessionID == "" {
		return ErrTokenInvalid
	}
	err := s.store.Sessions(ctx).Revoke(ctx, principal.Claims.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	obs.RecordSessionsRevoked(RevokeReasonLogout, 1)
	_ = audit.LogEvent(ctx, "auth.logout", nil)
	return nil
}

// LogoutAll revokes every session of the account, regardless of which token
// initiated the call.
func (s *Service) LogoutAll(ctx context.Context, accountID string) error {
	revoked, err := s.store.Sessions(ctx).RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	obs.RecordSessionsRevoked(RevokeReasonLogoutAll, revoked)
	_ = audit.LogEvent(ctx, "auth.logout_all", map[string]any{"sessions": revoked})
	return nil
}

// ForgotPassword starts the reset flow. The returned delivery channel depends
// only on the identifier's shape, never on account existence, so the response
// cannot be used for enumeration.
func (s *Service) ForgotPassword(ctx context.Context, inst *tenant.Institution, identifier string, client ClientInfo) (string, error) {
	identifier = strings.TrimSpace(identifier)
	channel := channelForIdentifier(identifier)
	if identifier == "" {
		return channel, nil
	}

	acct, err := s.store.Accounts(ctx).FindByIdentifier(ctx, institutionID(inst), identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same outward behavior as the found case.
			_ = audit.LogEvent(ctx, "auth.otp.requested_unknown", map[string]any{
				"identifier": identifier,
			})
			return channel, nil
		}
		return "", fmt.Errorf("find account: %w", err)
	}
	if !acct.Active {
		return channel, nil
	}

	ctx = audit.WithAccount(ctx, acct.ID)

	code, err := GenerateOTP(s.cfg.OTPDigits)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	hash, err := HashPassword(code)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}

	now := s.now().UTC()
	channel, recipient := channelForAccount(acct)
	challenge := &ResetChallenge{
		ID:          ids.New(),
		AccountID:   acct.ID,
		OTPHash:     hash,
		Channel:     channel,
		ExpiresAt:   now.Add(s.cfg.OTPTTL),
		MaxAttempts: s.cfg.OTPMaxAttempts,
		CreatedAt:   now,
	}
	if err := s.store.ResetChallenges(ctx).Replace(ctx, challenge); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notify.OTP{
			AccountID: acct.ID,
			Channel:   channel,
			Recipient: recipient,
			Code:      code,
			TTL:       s.cfg.OTPTTL,
		})
	}

	obs.RecordOTPRequest()
	_ = audit.LogEvent(ctx, "auth.otp.requested", map[string]any{"channel": channel})
	return channel, nil
}

// ResetPassword completes the reset flow: verifies the one-time code, sets
// the new secret and logs out every existing session.
func (s *Service) ResetPassword(ctx context.Context, inst *tenant.Institution, identifier, code, newPassword string, client ClientInfo) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || code == "" || newPassword == "" {
		return ErrOTPInvalid
	}

	acct, err := s.store.Accounts(ctx).FindByIdentifier(ctx, institutionID(inst), identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrOTPInvalid
		}
		return fmt.Errorf("find account: %w", err)
	}
	if !acct.Active {
		return ErrOTPInvalid
	}

	ctx = audit.WithAccount(ctx, acct.ID)
	challenges := s.store.ResetChallenges(ctx)

	challenge, err := challenges.FindByAccount(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrOTPInvalid
		}
		return fmt.Errorf("find challenge: %w", err)
	}

	now := s.now().UTC()
	if challenge.Expired(now) {
		_ = challenges.Delete(ctx, challenge.ID)
		return ErrOTPExpired
	}

	// The current attempt is counted before the code is compared, so the
	// challenge exhausts even when the final guess is correct.
	attempts, err := challenges.IncrementAttempts(ctx, challenge.ID)
	if err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}
	if attempts >= challenge.MaxAttempts {
		_ = challenges.Delete(ctx, challenge.ID)
		_ = audit.LogEvent(ctx, "auth.otp.exhausted", map[string]any{"attempts": attempts})
		return ErrTooManyOTPAttempts
	}

	if err := VerifyPassword(challenge.OTPHash, code); err != nil {
		_ = audit.LogEvent(ctx, "auth.otp.mismatch", map[string]any{"attempts": attempts})
		return ErrOTPInvalid
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Accounts(ctx).UpdatePassword(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	_ = challenges.Delete(ctx, challenge.ID)

	revoked, err := s.store.Sessions(ctx).RevokeAllForAccount(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	obs.RecordSessionsRevoked(RevokeReasonPasswordReset, revoked)
	_ = audit.LogEvent(ctx, "auth.password.reset", map[string]any{"sessions_revoked": revoked})
	return nil
}

// ChangePassword verifies the current secret and replaces it. Every existing
// session is revoked; the caller's access token stays valid until its own
// expiry.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	acct, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("find account: %w", err)
	}
	if err := VerifyPassword(acct.PasswordHash, currentPassword); err != nil {
		_ = audit.LogEvent(ctx, "auth.password.change_rejected", nil)
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.Accounts(ctx).UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	revoked, err := s.store.Sessions(ctx).RevokeAllForAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	obs.RecordSessionsRevoked(RevokeReasonPasswordChange, revoked)
	_ = audit.LogEvent(ctx, "auth.password.changed", map[string]any{"sessions_revoked": revoked})
	return nil
}

// CompleteProfile clears the profile-completion gate for the account.
func (s *Service) CompleteProfile(ctx context.Context, accountID string) error {
	if err := s.store.Accounts(ctx).MarkProfileCompleted(ctx, accountID); err != nil {
		return fmt.Errorf("mark profile completed: %w", err)
	}
	_ = audit.LogEvent(ctx, "auth.profile.completed", nil)
	return nil
}

// Account loads the authentication view of an account.
func (s *Service) Account(ctx context.Context, accountID string) (*Account, error) {
	return s.store.Accounts(ctx).Find(ctx, accountID)
}

// Authenticate verifies an access token against the tenant resolved for this
// request and loads the live account state. Tokens issued under a different
// institution are rejected regardless of signature validity.
func (s *Service) Authenticate(ctx context.Context, inst *tenant.Institution, token string) (Principal, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Principal{}, err
	}
	if inst != nil && claims.InstitutionID != inst.ID {
		_ = audit.LogEvent(audit.WithAccount(ctx, claims.Subject), "auth.token.tenant_mismatch", map[string]any{
			"token_institution": claims.InstitutionID,
		})
		return Principal{}, ErrTokenInvalid
	}

	acct, err := s.store.Accounts(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrTokenInvalid
		}
		return Principal{}, fmt.Errorf("find account: %w", err)
	}
	if !acct.Active {
		return Principal{}, ErrAccountInactive
	}
	return Principal{Account: acct, Claims: claims}, nil
}

// issueSession creates a fresh session plus token pair for a verified
// account, applying the single-device policy.
func (s *Service) issueSession(ctx context.Context, acct *Account, inst *tenant.Institution, client ClientInfo) (TokenPair, error) {
	sessions := s.store.Sessions(ctx)
	if s.singleDevice(inst) {
		revoked, err := sessions.RevokeAllForAccount(ctx, acct.ID)
		if err != nil {
			return TokenPair{}, fmt.Errorf("revoke prior sessions: %w", err)
		}
		obs.RecordSessionsRevoked(RevokeReasonNewDevice, revoked)
	}

	now := s.now().UTC()
	sess, rawToken, err := s.newSession(acct.ID, client, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := sessions.Create(ctx, sess); err != nil {
		return TokenPair{}, fmt.Errorf("create session: %w", err)
	}

	accessToken, accessExp, err := s.tokens.Sign(acct, sess.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     rawToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// newSession builds an unsaved session record and its opaque refresh token
// ("<session id>.<secret>"); only the secret's hash is kept.
func (s *Service) newSession(accountID string, client ClientInfo, now time.Time) (*Session, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sess := &Session{
		ID:          ids.New(),
		AccountID:   accountID,
		TokenHash:   hashSecret(secret),
		Fingerprint: client.Fingerprint,
		IP:          client.IP,
		UserAgent:   client.UserAgent,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.RefreshTTL),
	}
	return sess, sess.ID + "." + secret, nil
}

func (s *Service) lockoutThreshold(inst *tenant.Institution) int {
	if inst != nil && inst.MaxLoginAttempts > 0 {
		return inst.MaxLoginAttempts
	}
	return s.cfg.LockoutThreshold
}

func (s *Service) lockoutDuration(inst *tenant.Institution) time.Duration {
	if inst != nil && inst.LockoutDuration > 0 {
		return inst.LockoutDuration
	}
	return s.cfg.LockoutDuration
}

func (s *Service) singleDevice(inst *tenant.Institution) bool {
	if inst != nil {
		return inst.SingleDeviceLogin
	}
	return s.cfg.SingleDeviceSessions
}

func institutionID(inst *tenant.Institution) string {
	if inst == nil {
		return ""
	}
	return inst.ID
}

func channelForAccount(acct *Account) (channel, recipient string) {
	if acct.Phone != "" {
		return notify.ChannelSMS, acct.Phone
	}
	return notify.ChannelEmail, acct.Email
}

func channelForIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return notify.ChannelEmail
	}
	return notify.ChannelSMS
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretMatchesHash(secret, expectedHash string) bool {
	actual := hashSecret(secret)
	if len(actual) != len(expectedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHash)) == 1
}
