package tenant

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	bySubdomain map[string]*Institution
	byDomain    map[string]*Institution
}

func (f *fakeStore) BySubdomain(ctx context.Context, subdomain string) (*Institution, error) {
	if inst, ok := f.bySubdomain[subdomain]; ok {
		return inst, nil
	}
	return nil, ErrNotFound
}

func (f *fakeStore) ByCustomDomain(ctx context.Context, domain string) (*Institution, error) {
	if inst, ok := f.byDomain[domain]; ok {
		return inst, nil
	}
	return nil, ErrNotFound
}

func testResolver() *Resolver {
	northfield := &Institution{ID: "inst-1", Subdomain: "northfield", Active: true}
	dormant := &Institution{ID: "inst-2", Subdomain: "dormant", Active: false}
	return NewResolver(&fakeStore{
		bySubdomain: map[string]*Institution{
			"northfield": northfield,
			"dormant":    dormant,
		},
		byDomain: map[string]*Institution{
			"learn.northfield.edu": northfield,
		},
	}, "scholarbridgelms.com")
}

func TestResolveSubdomain(t *testing.T) {
	r := testResolver()

	cases := []struct {
		name string
		host string
	}{
		{"plain", "northfield.scholarbridgelms.com"},
		{"with port", "northfield.scholarbridgelms.com:8443"},
		{"mixed case", "NorthField.ScholarBridgeLMS.com"},
		{"trailing dot", "northfield.scholarbridgelms.com."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inst, err := r.Resolve(context.Background(), tc.host)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.host, err)
			}
			if inst.ID != "inst-1" {
				t.Errorf("resolved %q, want inst-1", inst.ID)
			}
		})
	}
}

func TestResolveTenantless(t *testing.T) {
	r := testResolver()

	for _, host := range []string{
		"scholarbridgelms.com",
		"www.scholarbridgelms.com",
		"api.scholarbridgelms.com",
		"admin.scholarbridgelms.com",
		"platform.scholarbridgelms.com",
		"a.b.scholarbridgelms.com",
		"localhost:8080",
		"",
	} {
		if _, err := r.Resolve(context.Background(), host); !errors.Is(err, ErrRequired) {
			t.Errorf("Resolve(%q) = %v, want ErrRequired", host, err)
		}
	}
}

func TestResolveUnknownSubdomain(t *testing.T) {
	r := testResolver()
	if _, err := r.Resolve(context.Background(), "ghost.scholarbridgelms.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveInactiveInstitution(t *testing.T) {
	r := testResolver()
	if _, err := r.Resolve(context.Background(), "dormant.scholarbridgelms.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveCustomDomain(t *testing.T) {
	r := testResolver()

	for _, host := range []string{"learn.northfield.edu", "www.learn.northfield.edu", "learn.northfield.edu:443"} {
		inst, err := r.Resolve(context.Background(), host)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", host, err)
		}
		if inst.ID != "inst-1" {
			t.Errorf("resolved %q, want inst-1", inst.ID)
		}
	}

	if _, err := r.Resolve(context.Background(), "unclaimed.example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown custom domain err = %v, want ErrNotFound", err)
	}
}

func TestResolveLocalhostSubdomain(t *testing.T) {
	r := testResolver()
	inst, err := r.Resolve(context.Background(), "northfield.localhost:3000")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inst.ID != "inst-1" {
		t.Errorf("resolved %q, want inst-1", inst.ID)
	}
}
