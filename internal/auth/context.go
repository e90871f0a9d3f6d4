package auth

import "context"

// Principal is the authenticated caller attached to the request context by
// the access gate: the account plus the verified claims it presented.
type Principal struct {
	Account *Account
	Claims  *Claims
}

// HasRole reports whether the principal's role is in the given set.
func (p Principal) HasRole(roles ...string) bool {
	if p.Account == nil {
		return false
	}
	for _, role := range roles {
		if p.Account.Role == role {
			return true
		}
	}
	return false
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil || v.Account == nil {
		return Principal{}, false
	}
	return *v, true
}
