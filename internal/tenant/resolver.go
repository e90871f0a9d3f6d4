// Package tenant resolves which institution an inbound request belongs to.
package tenant

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Labels under the base domain that never map to an institution.
var reservedLabels = map[string]struct{}{
	"www":      {},
	"api":      {},
	"admin":    {},
	"platform": {},
}

// Resolver maps a request host to an Institution record.
type Resolver struct {
	store      Store
	baseDomain string
}

// NewResolver constructs a Resolver for the given platform base domain
// (e.g. "scholarbridgelms.com").
func NewResolver(store Store, baseDomain string) *Resolver {
	return &Resolver{store: store, baseDomain: strings.ToLower(strings.TrimSpace(baseDomain))}
}

// Resolve maps the request host to an active Institution.
//
// Hosts of the form <label>.<base domain> resolve by subdomain; the bare base
// domain and reserved labels are tenant-less (ErrRequired); anything else is
// looked up as a verified custom domain. Missing or inactive institutions
// return ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Institution, error) {
	host = normalizeHost(host)
	if host == "" {
		return nil, ErrRequired
	}

	if host == r.baseDomain {
		return nil, ErrRequired
	}

	if suffix := "." + r.baseDomain; strings.HasSuffix(host, suffix) {
		label := strings.TrimSuffix(host, suffix)
		if label == "" || strings.Contains(label, ".") {
			return nil, ErrRequired
		}
		if _, reserved := reservedLabels[label]; reserved {
			return nil, ErrRequired
		}
		return r.lookup(func() (*Institution, error) {
			return r.store.BySubdomain(ctx, label)
		})
	}

	// Development hosts carry the subdomain in front of localhost.
	if isLocalHost(host) {
		parts := strings.SplitN(host, ".", 2)
		if len(parts) == 2 && parts[0] != "" {
			if _, reserved := reservedLabels[parts[0]]; !reserved {
				return r.lookup(func() (*Institution, error) {
					return r.store.BySubdomain(ctx, parts[0])
				})
			}
		}
		return nil, ErrRequired
	}

	return r.lookup(func() (*Institution, error) {
		return r.store.ByCustomDomain(ctx, strings.TrimPrefix(host, "www."))
	})
}

func (r *Resolver) lookup(find func() (*Institution, error)) (*Institution, error) {
	inst, err := find()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if inst == nil || !inst.Active {
		return nil, ErrNotFound
	}
	return inst, nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" ||
		strings.HasSuffix(host, ".localhost")
}
