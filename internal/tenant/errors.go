package tenant

import "errors"

var (
	// ErrNotFound means the host named a tenant that does not exist or is
	// inactive. Fails closed before any credential check runs.
	ErrNotFound = errors.New("tenant: institution not found")

	// ErrRequired means no tenant is derivable from the host and the route
	// is not on the tenant-less allow list.
	ErrRequired = errors.New("tenant: institution context required")
)
