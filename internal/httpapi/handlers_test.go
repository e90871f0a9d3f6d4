package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"scholarbridge.org/internal/auth"
	"scholarbridge.org/internal/auth/authtest"
	"scholarbridge.org/internal/notify"
	"scholarbridge.org/internal/tenant"
)

const (
	testBaseDomain = "scholarbridgelms.com"
	testHost       = "northfield." + testBaseDomain
)

type fakeTenantStore struct {
	bySubdomain map[string]*tenant.Institution
}

func (f *fakeTenantStore) BySubdomain(ctx context.Context, subdomain string) (*tenant.Institution, error) {
	if inst, ok := f.bySubdomain[subdomain]; ok {
		return inst, nil
	}
	return nil, tenant.ErrNotFound
}

func (f *fakeTenantStore) ByCustomDomain(ctx context.Context, domain string) (*tenant.Institution, error) {
	return nil, tenant.ErrNotFound
}

type testAPI struct {
	api     *API
	store   *authtest.Store
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), "scholarbridge", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	store := authtest.NewStore()
	svc, err := auth.NewService(store, tokens, notify.NewDispatcher(notify.LogSender{}, time.Second), auth.Config{
		RefreshTTL:       24 * time.Hour,
		LockoutThreshold: 3,
		LockoutDuration:  15 * time.Minute,
		OTPTTL:           5 * time.Minute,
		OTPMaxAttempts:   3,
		OTPDigits:        6,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	resolver := tenant.NewResolver(&fakeTenantStore{
		bySubdomain: map[string]*tenant.Institution{
			"northfield": {ID: "inst-1", Name: "Northfield", Subdomain: "northfield", Active: true},
			"lakeside":   {ID: "inst-2", Name: "Lakeside", Subdomain: "lakeside", Active: true},
		},
	}, testBaseDomain)

	api := New(svc, resolver, ReadyProbe{}, Limits{MaxBodyBytes: 1 << 20}, "test")
	return &testAPI{api: api, store: store, handler: api.Handler()}
}

func (ta *testAPI) seedAccount(t *testing.T, mutate ...func(*auth.Account)) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	acct := &auth.Account{
		ID:               "acct-1",
		InstitutionID:    "inst-1",
		Username:         "jsmith",
		Email:            "jsmith@example.edu",
		PasswordHash:     string(hash),
		Role:             auth.RoleStudent,
		Active:           true,
		ProfileCompleted: true,
	}
	for _, m := range mutate {
		m(acct)
	}
	ta.store.Seed(acct)
}

func (ta *testAPI) do(t *testing.T, method, path, host, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Host = host
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return env
}

func (ta *testAPI) login(t *testing.T) (access, refresh string) {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/auth/login", testHost, "", loginRequest{
		Identifier: "jsmith", Password: "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	data, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	var ld loginData
	if err := json.Unmarshal(data, &ld); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return ld.Tokens.AccessToken, ld.Tokens.RefreshToken
}

func TestLoginEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)

	access, refresh := ta.login(t)
	if access == "" || refresh == "" {
		t.Fatal("missing tokens in login response")
	}

	rec := ta.do(t, http.MethodGet, "/auth/me", testHost, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/auth/me status = %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Errorf("envelope success = false: %s", env.Message)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)

	rec := ta.do(t, http.MethodPost, "/auth/login", testHost, "", loginRequest{
		Identifier: "jsmith", Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Success {
		t.Error("envelope success = true on failed login")
	}
}

func TestLoginLockoutStatus(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)

	for i := 0; i < 3; i++ {
		ta.do(t, http.MethodPost, "/auth/login", testHost, "", loginRequest{
			Identifier: "jsmith", Password: "wrong",
		})
	}
	rec := ta.do(t, http.MethodPost, "/auth/login", testHost, "", loginRequest{
		Identifier: "jsmith", Password: "correct-horse",
	})
	if rec.Code != http.StatusLocked {
		t.Fatalf("status = %d, want 423", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestLoginUnknownSubdomain(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodPost, "/auth/login", "ghost."+testBaseDomain, "", loginRequest{
		Identifier: "jsmith", Password: "correct-horse",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTokenBoundToTenant(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)
	access, _ := ta.login(t)

	rec := ta.do(t, http.MethodGet, "/auth/me", "lakeside."+testBaseDomain, access, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("cross-tenant status = %d, want 401", rec.Code)
	}
}

func TestRefreshEndpointRotation(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)
	_, refresh := ta.login(t)

	rec := ta.do(t, http.MethodPost, "/auth/refresh-token", testHost, "", refreshRequest{RefreshToken: refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Replay of the consumed token.
	rec = ta.do(t, http.MethodPost, "/auth/refresh-token", testHost, "", refreshRequest{RefreshToken: refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rec.Code)
	}
}

func TestLogoutEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)
	access, refresh := ta.login(t)

	rec := ta.do(t, http.MethodPost, "/auth/logout", testHost, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	rec = ta.do(t, http.MethodPost, "/auth/refresh-token", testHost, "", refreshRequest{RefreshToken: refresh})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout status = %d, want 401", rec.Code)
	}
}

func TestGateOrdering(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t, func(a *auth.Account) {
		a.ForcePasswordChange = true
		a.ProfileCompleted = false
	})
	access, _ := ta.login(t)

	// Password gate blocks regular endpoints first.
	rec := ta.do(t, http.MethodGet, "/auth/me", testHost, access, nil)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("/auth/me status = %d, want 428", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Message != "password change required" {
		t.Fatalf("message = %q, want password gate first", env.Message)
	}

	// Completing the profile is still blocked by the password gate.
	rec = ta.do(t, http.MethodPost, "/auth/complete-profile", testHost, access, nil)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("complete-profile status = %d, want 428", rec.Code)
	}

	// Changing the password is exempt.
	rec = ta.do(t, http.MethodPost, "/auth/change-password", testHost, access, changePasswordRequest{
		CurrentPassword: "correct-horse", NewPassword: "new-passphrase",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change-password status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Now the profile gate takes over.
	rec = ta.do(t, http.MethodGet, "/auth/me", testHost, access, nil)
	if rec.Code != http.StatusPreconditionRequired {
		t.Fatalf("/auth/me status = %d, want 428 (profile)", rec.Code)
	}
	env = decodeEnvelope(t, rec)
	if env.Message != "profile completion required" {
		t.Fatalf("message = %q, want profile gate", env.Message)
	}

	rec = ta.do(t, http.MethodPost, "/auth/complete-profile", testHost, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete-profile status = %d", rec.Code)
	}

	rec = ta.do(t, http.MethodGet, "/auth/me", testHost, access, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/auth/me status = %d after clearing gates", rec.Code)
	}
}

func TestForgotPasswordGenericResponse(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)

	responses := make([]envelope, 0, 2)
	for _, identifier := range []string{"jsmith@example.edu", "ghost@example.edu"} {
		rec := ta.do(t, http.MethodPost, "/auth/forgot-password", testHost, "", forgotPasswordRequest{Identifier: identifier})
		if rec.Code != http.StatusOK {
			t.Fatalf("forgot-password(%q) status = %d", identifier, rec.Code)
		}
		responses = append(responses, decodeEnvelope(t, rec))
	}
	if responses[0].Message != responses[1].Message {
		t.Errorf("messages differ: %q vs %q", responses[0].Message, responses[1].Message)
	}
	if fmt.Sprint(responses[0].Data) != fmt.Sprint(responses[1].Data) {
		t.Errorf("data differs: %v vs %v", responses[0].Data, responses[1].Data)
	}
}

func TestBearerRequired(t *testing.T) {
	ta := newTestAPI(t)
	for _, path := range []string{"/auth/me", "/auth/logout", "/auth/logout-all", "/auth/change-password", "/auth/complete-profile"} {
		rec := ta.do(t, http.MethodPost, path, testHost, "", nil)
		if path == "/auth/me" {
			rec = ta.do(t, http.MethodGet, path, testHost, "", nil)
		}
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAccount(t)
	rec := ta.do(t, http.MethodGet, "/auth/login", testHost, "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPost {
		t.Errorf("Allow = %q, want POST", got)
	}
}

func TestHealthz(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/healthz", "anything.example.com", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/readyz", testHost, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}

func TestUnknownPath(t *testing.T) {
	ta := newTestAPI(t)
	rec := ta.do(t, http.MethodGet, "/nope", testHost, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
