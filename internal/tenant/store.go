package tenant

import "context"

// Store describes the institution lookups the resolver needs. The institution
// catalog itself is owned by the provisioning layer.
type Store interface {
	BySubdomain(ctx context.Context, subdomain string) (*Institution, error)
	ByCustomDomain(ctx context.Context, domain string) (*Institution, error)
}
