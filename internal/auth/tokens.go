package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const accessTokenType = "access"

// Claims is the signed access-token claim set. Access tokens are verified
// purely by signature and expiry; they are never looked up in storage.
type Claims struct {
	InstitutionID string `json:"org,omitempty"`
	Role          string `json:"role"`
	SessionID     string `json:"sid"`
	TokenType     string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies access tokens using HS256.
type TokenManager struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenManager constructs a TokenManager. The secret must be at least 32
// bytes for HS256.
func NewTokenManager(secret []byte, issuer string, accessTTL time.Duration) (*TokenManager, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	if accessTTL <= 0 {
		return nil, errors.New("auth: access TTL must be positive")
	}
	return &TokenManager{
		secret:    secret,
		issuer:    strings.TrimSpace(issuer),
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source. Test use only.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Sign mints an access token bound to {account, institution, role, session}.
func (m *TokenManager) Sign(account *Account, sessionID string) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.accessTTL)
	claims := Claims{
		InstitutionID: account.InstitutionID,
		Role:          account.Role,
		SessionID:     sessionID,
		TokenType:     accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, issuer and token type. Expired tokens are
// distinguished from malformed ones so the caller can signal re-auth.
func (m *TokenManager) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != accessTokenType {
		return nil, ErrTokenInvalid
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
