// Package httpapi is the HTTP surface of the authentication service: tenant
// resolution, the access gate and the /auth endpoints, all sharing a uniform
// JSON envelope.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"scholarbridge.org/internal/auth"
	"scholarbridge.org/internal/obs"
	"scholarbridge.org/internal/tenant"
)

// ReadyProbe reports readiness (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Limits carries HTTP-level protections applied around the whole mux.
type Limits struct {
	MaxBodyBytes       int64
	RateLimitPerSecond int
	RateLimitBurst     int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	resolver   *tenant.Resolver
	readyProbe ReadyProbe
	limits     Limits
	version    string
}

func New(svc *auth.Service, resolver *tenant.Resolver, rp ReadyProbe, limits Limits, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		resolver:   resolver,
		readyProbe: rp,
		limits:     limits,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/refresh-token", a.handleRefreshToken)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/auth/complete-profile", a.handleCompleteProfile)
	a.mux.HandleFunc("/auth/me", a.handleMe)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler assembles the middleware chain around the mux. Tenant resolution
// and the access gate run innermost so they see the request id and survive
// rate limiting.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withGate(a.mux)
	h = a.withTenant(h)
	if a.limits.RateLimitPerSecond > 0 {
		h = RateLimit(h, a.limits.RateLimitPerSecond, a.limits.RateLimitBurst)
	}
	if a.limits.MaxBodyBytes > 0 {
		h = MaxBodyBytes(h, a.limits.MaxBodyBytes)
	}
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "scholarbridge-auth",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "scholarbridge-auth",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
