package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"scholarbridge.org/internal/audit"
	"scholarbridge.org/internal/auth"
	"scholarbridge.org/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Endpoints reachable without a bearer token.
var publicPaths = map[string]struct{}{
	"/auth/login":           {},
	"/auth/refresh-token":   {},
	"/auth/forgot-password": {},
	"/auth/reset-password":  {},
	"/healthz":              {},
	"/readyz":               {},
	"/metrics":              {},
	"/info":                 {},
}

// Gate exemptions. An account stuck behind force_password_change may still
// change its password and log out; one stuck behind profile completion may
// additionally complete the profile.
var passwordGateExempt = map[string]struct{}{
	"/auth/change-password": {},
	"/auth/logout":          {},
	"/auth/logout-all":      {},
}

var profileGateExempt = map[string]struct{}{
	"/auth/complete-profile": {},
	"/auth/change-password":  {},
	"/auth/logout":           {},
	"/auth/logout-all":       {},
}

// withGate authenticates bearer requests and enforces the mandatory
// transition order: active account, then password change, then profile
// completion. The checks run on live account state, not token claims.
func (a *API) withGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}
		// Unregistered paths 404 before the bearer check.
		if _, pattern := a.mux.Handler(r); pattern == "/" {
			respondError(w, r, http.StatusNotFound, "not found")
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		inst, _ := tenant.InstitutionFromContext(r.Context())
		principal, err := a.svc.Authenticate(r.Context(), inst, token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				respondError(w, r, http.StatusUnauthorized, "token expired")
			case errors.Is(err, auth.ErrTokenInvalid):
				respondError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrAccountInactive):
				respondError(w, r, http.StatusUnauthorized, "account is inactive")
			default:
				respondError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		path := r.URL.Path
		if principal.Account.ForcePasswordChange {
			if _, exempt := passwordGateExempt[path]; !exempt {
				respondError(w, r, http.StatusPreconditionRequired, "password change required")
				return
			}
		} else if !principal.Account.ProfileCompleted {
			if _, exempt := profileGateExempt[path]; !exempt {
				respondError(w, r, http.StatusPreconditionRequired, "profile completion required")
				return
			}
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = audit.WithAccount(ctx, principal.Account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
