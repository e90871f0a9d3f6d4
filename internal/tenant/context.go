package tenant

import "context"

type institutionContextKey struct{}

// ContextWithInstitution attaches the resolved institution to the context so
// every downstream component operates within the same tenant scope.
func ContextWithInstitution(ctx context.Context, inst *Institution) context.Context {
	if inst == nil {
		return ctx
	}
	return context.WithValue(ctx, institutionContextKey{}, inst)
}

// InstitutionFromContext extracts the resolved institution, if any.
func InstitutionFromContext(ctx context.Context) (*Institution, bool) {
	if ctx == nil {
		return nil, false
	}
	inst, ok := ctx.Value(institutionContextKey{}).(*Institution)
	if !ok || inst == nil {
		return nil, false
	}
	return inst, true
}
