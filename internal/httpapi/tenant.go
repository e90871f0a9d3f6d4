package httpapi

import (
	"errors"
	"net/http"

	"scholarbridge.org/internal/audit"
	"scholarbridge.org/internal/tenant"
)

// Paths served without a resolved institution: probes, metrics and the
// platform (super-admin) authentication surface.
var tenantlessPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/metrics": {},
	"/info":    {},
}

// withTenant resolves the institution from the request host and attaches it
// to the context. Platform hosts (the bare base domain and reserved labels)
// pass through with no institution; super-admin accounts authenticate there.
func (a *API) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenantlessPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		inst, err := a.resolver.Resolve(r.Context(), r.Host)
		switch {
		case err == nil:
			ctx := tenant.ContextWithInstitution(r.Context(), inst)
			ctx = audit.WithInstitution(ctx, inst.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		case errors.Is(err, tenant.ErrRequired):
			// Platform scope: requests proceed tenant-less.
			next.ServeHTTP(w, r)
		case errors.Is(err, tenant.ErrNotFound):
			respondError(w, r, http.StatusNotFound, "institution not found")
		default:
			respondError(w, r, http.StatusInternalServerError, "tenant resolution failed")
		}
	})
}
