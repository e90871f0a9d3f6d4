package auth

import (
	"context"
	"testing"
)

func TestPrincipalContextRoundTrip(t *testing.T) {
	principal := Principal{
		Account: &Account{ID: "acct-1", Role: RoleFaculty},
		Claims:  &Claims{SessionID: "sess-1"},
	}

	ctx := ContextWithPrincipal(context.Background(), principal)
	got, ok := PrincipalFromContext(ctx)
	if !ok {
		t.Fatal("principal not found in context")
	}
	if got.Account.ID != "acct-1" || got.Claims.SessionID != "sess-1" {
		t.Errorf("principal = %+v", got)
	}

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Error("empty context yielded a principal")
	}
}

func TestHasRole(t *testing.T) {
	p := Principal{Account: &Account{Role: RoleLibrarian}}
	if !p.HasRole(RoleLibrarian) {
		t.Error("own role not matched")
	}
	if !p.HasRole(RoleFaculty, RoleLibrarian) {
		t.Error("role set membership not matched")
	}
	if p.HasRole(RoleStudent) {
		t.Error("unrelated role matched")
	}
	if (Principal{}).HasRole(RoleGuest) {
		t.Error("empty principal matched a role")
	}
}
