// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "SB_"

// Config holds every runtime knob of the authentication service. All values
// come from SB_* environment variables; nothing security-relevant is hardcoded.
type Config struct {
	ListenAddr string
	PGDSN      string

	// BaseDomain is the shared platform domain. Institution subdomains hang
	// off it: <subdomain>.<BaseDomain>. Anything else is treated as a
	// candidate custom domain.
	BaseDomain string

	TokenSecret string
	TokenIssuer string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	OTPTTL             time.Duration
	OTPMaxAttempts     int
	OTPDigits          int
	OTPDispatchTimeout time.Duration

	// SingleDeviceSessions is the platform default; institutions may
	// override it per tenant.
	SingleDeviceSessions bool

	RateLimitPerSecond int
	RateLimitBurst     int
	MaxBodyBytes       int64
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           getString("ADDR", ":8080"),
		PGDSN:                getString("PG_DSN", ""),
		BaseDomain:           getString("BASE_DOMAIN", "scholarbridgelms.com"),
		TokenSecret:          getString("AUTH_SECRET", ""),
		TokenIssuer:          getString("TOKEN_ISSUER", "scholarbridge"),
		SingleDeviceSessions: getBool("SINGLE_DEVICE_SESSIONS", true),
	}

	var errs []string
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	var err error
	cfg.AccessTTL, err = getDuration("ACCESS_TTL", 30*time.Minute)
	collect(err)
	cfg.RefreshTTL, err = getDuration("REFRESH_TTL", 7*24*time.Hour)
	collect(err)
	cfg.LockoutThreshold, err = getInt("LOCKOUT_THRESHOLD", 5)
	collect(err)
	cfg.LockoutDuration, err = getDuration("LOCKOUT_DURATION", 15*time.Minute)
	collect(err)
	cfg.OTPTTL, err = getDuration("OTP_TTL", 5*time.Minute)
	collect(err)
	cfg.OTPMaxAttempts, err = getInt("OTP_MAX_ATTEMPTS", 3)
	collect(err)
	cfg.OTPDigits, err = getInt("OTP_DIGITS", 6)
	collect(err)
	cfg.OTPDispatchTimeout, err = getDuration("OTP_DISPATCH_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.RateLimitPerSecond, err = getInt("RATE_LIMIT_PER_SECOND", 10)
	collect(err)
	cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 20)
	collect(err)
	maxBody, err := getInt("MAX_BODY_BYTES", 1<<20)
	collect(err)
	cfg.MaxBodyBytes = int64(maxBody)

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string
	if strings.TrimSpace(c.TokenSecret) == "" {
		errs = append(errs, envPrefix+"AUTH_SECRET is required")
	} else if len(c.TokenSecret) < 32 {
		errs = append(errs, envPrefix+"AUTH_SECRET must be at least 32 bytes")
	}
	if strings.TrimSpace(c.BaseDomain) == "" {
		errs = append(errs, envPrefix+"BASE_DOMAIN is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, "token TTLs must be positive")
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, "refresh TTL must exceed access TTL")
	}
	if c.LockoutThreshold < 1 {
		errs = append(errs, "lockout threshold must be at least 1")
	}
	if c.LockoutDuration <= 0 {
		errs = append(errs, "lockout duration must be positive")
	}
	if c.OTPTTL <= 0 {
		errs = append(errs, "OTP TTL must be positive")
	}
	if c.OTPMaxAttempts < 1 {
		errs = append(errs, "OTP max attempts must be at least 1")
	}
	if c.OTPDigits < 4 || c.OTPDigits > 10 {
		errs = append(errs, "OTP digits must be between 4 and 10")
	}
	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return n, nil
}

func getBool(key string, def bool) bool {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}
