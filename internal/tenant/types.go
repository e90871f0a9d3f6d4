package tenant

import "time"

// Institution is an isolated customer organization. This core never mutates
// institutions; they are owned by the provisioning layer and used only for
// lookup, isolation and per-tenant security policy.
type Institution struct {
	ID           string
	Name         string
	Subdomain    string
	CustomDomain string
	Active       bool

	// Per-tenant security policy. Zero values fall back to the platform
	// defaults from configuration.
	SingleDeviceLogin bool
	MaxLoginAttempts  int
	LockoutDuration   time.Duration

	CreatedAt time.Time
	UpdatedAt time.Time
}
