package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"scholarbridge.org/internal/auth"
	"scholarbridge.org/internal/tenant"
)

type loginRequest struct {
	Identifier  string `json:"identifier"`
	Password    string `json:"password"`
	Fingerprint string `json:"device_fingerprint,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Identifier string `json:"identifier"`
}

type resetPasswordRequest struct {
	Identifier  string `json:"identifier"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenData struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type accountData struct {
	ID               string `json:"id"`
	InstitutionID    string `json:"institution_id,omitempty"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	Role             string `json:"role"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	ProfileCompleted bool   `json:"profile_completed"`
}

type loginData struct {
	Tokens                    tokenData   `json:"tokens"`
	Account                   accountData `json:"account"`
	RequiresPasswordChange    bool        `json:"requires_password_change"`
	RequiresProfileCompletion bool        `json:"requires_profile_completion"`
}

func accountView(acct *auth.Account) accountData {
	return accountData{
		ID:               acct.ID,
		InstitutionID:    acct.InstitutionID,
		Username:         acct.Username,
		Email:            acct.Email,
		Role:             acct.Role,
		FirstName:        acct.FirstName,
		LastName:         acct.LastName,
		ProfileCompleted: acct.ProfileCompleted,
	}
}

func loginView(res *auth.LoginResult) loginData {
	return loginData{
		Tokens: tokenData{
			AccessToken:      res.Tokens.AccessToken,
			RefreshToken:     res.Tokens.RefreshToken,
			AccessExpiresAt:  res.Tokens.AccessExpiresAt,
			RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
		},
		Account:                   accountView(res.Account),
		RequiresPasswordChange:    res.Account.ForcePasswordChange,
		RequiresProfileCompletion: !res.Account.ProfileCompleted,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inst, _ := tenant.InstitutionFromContext(r.Context())
	res, err := a.svc.Login(r.Context(), auth.LoginInput{
		Institution: inst,
		Identifier:  req.Identifier,
		Password:    req.Password,
		Client:      clientInfo(r, req.Fingerprint),
	})
	if err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "login successful", loginView(res))
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inst, _ := tenant.InstitutionFromContext(r.Context())
	res, err := a.svc.Refresh(r.Context(), inst, req.RefreshToken, clientInfo(r, ""))
	if err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "token refreshed", loginView(res))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.svc.Logout(r.Context(), principal); err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "logged out", nil)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.svc.LogoutAll(r.Context(), principal.Account.ID); err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "logged out everywhere", nil)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inst, _ := tenant.InstitutionFromContext(r.Context())
	channel, err := a.svc.ForgotPassword(r.Context(), inst, req.Identifier, clientInfo(r, ""))
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "could not start password reset")
		return
	}
	// The same response regardless of whether the account exists.
	respondOK(w, "if the account exists, a reset code has been sent", map[string]any{
		"channel": channel,
	})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	inst, _ := tenant.InstitutionFromContext(r.Context())
	err := a.svc.ResetPassword(r.Context(), inst, req.Identifier, req.Code, req.NewPassword, clientInfo(r, ""))
	if err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "password has been reset", nil)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		respondError(w, r, http.StatusBadRequest, "new_password is required")
		return
	}

	err := a.svc.ChangePassword(r.Context(), principal.Account.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "password changed", nil)
}

func (a *API) handleCompleteProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	if err := a.svc.CompleteProfile(r.Context(), principal.Account.ID); err != nil {
		a.mapAuthError(w, r, err)
		return
	}
	respondOK(w, "profile completed", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "missing bearer token")
		return
	}
	respondOK(w, "ok", accountView(principal.Account))
}

// mapAuthError translates engine errors into the uniform error envelope.
func (a *API) mapAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(int(locked.RetryAfter.Seconds())+1))
		respondError(w, r, http.StatusLocked, "account is temporarily locked")
	case errors.Is(err, auth.ErrAccountLocked):
		respondError(w, r, http.StatusLocked, "account is temporarily locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrTokenExpired):
		respondError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenReused), errors.Is(err, auth.ErrTokenInvalid):
		respondError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrAccountInactive):
		respondError(w, r, http.StatusUnauthorized, "account is inactive")
	case errors.Is(err, auth.ErrTooManyOTPAttempts):
		respondError(w, r, http.StatusTooManyRequests, "too many attempts, request a new code")
	case errors.Is(err, auth.ErrOTPExpired):
		respondError(w, r, http.StatusBadRequest, "code expired, request a new one")
	case errors.Is(err, auth.ErrOTPInvalid):
		respondError(w, r, http.StatusBadRequest, "invalid code")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func clientInfo(r *http.Request, fingerprint string) auth.ClientInfo {
	return auth.ClientInfo{
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		Fingerprint: fingerprint,
	}
}
