package httpapi

import (
	"errors"
	"net/http"
	"time"

	"alyanspace.org/adminauth/internal/audit"
	"alyanspace.org/adminauth/internal/auth"
)

type sessionResponse struct {
	User        auth.Profile `json:"user"`
	AccessToken string       `json:"accessToken"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.logger.WarnContext(r.Context(), "login body rejected", "ip", clientIP(r), "error", err)
		writeError(w, r, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Validation failed",
			"details": errs,
		})
		return
	}

	ip := clientIP(r)
	sess, err := a.sessions.Login(r.Context(), req.Email, req.Password, ip)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"email": req.Email, "ip": ip})
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "Login failed")
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: sess.User})
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"ip":         ip,
		"expires_at": sess.Tokens.AccessExpiresAt.Format(time.RFC3339),
	})

	a.setRefreshCookie(w, sess.Tokens.RefreshToken, a.sessions.Codec().TTL(auth.TokenRefresh))
	writeSuccess(w, http.StatusOK, "Login successful", sessionResponse{
		User:        sess.User,
		AccessToken: sess.Tokens.AccessToken,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token := refreshTokenFrom(w, r)
	if token == "" {
		a.clearRefreshCookie(w)
		writeError(w, r, http.StatusUnauthorized, "Refresh token is required")
		return
	}

	sess, err := a.sessions.Rotate(r.Context(), token)
	if err != nil {
		a.clearRefreshCookie(w)
		_ = audit.LogEvent(r.Context(), "auth.refresh.failed", map[string]any{"ip": clientIP(r), "reason": err.Error()})
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, r, http.StatusUnauthorized, msgSessionExpired)
		case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrTokenRequired):
			writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		default:
			writeError(w, r, http.StatusInternalServerError, "Token refresh failed")
		}
		return
	}

	ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{User: sess.User})
	_ = audit.LogEvent(ctx, "auth.refresh", map[string]any{"ip": clientIP(r)})

	a.setRefreshCookie(w, sess.Tokens.RefreshToken, a.sessions.Codec().TTL(auth.TokenRefresh))
	writeSuccess(w, http.StatusOK, "Token refreshed successfully", sessionResponse{
		User:        sess.User,
		AccessToken: sess.Tokens.AccessToken,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token := refreshTokenFrom(w, r)
	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.sessions.Logout(r.Context(), token, userID); err != nil {
		a.logger.ErrorContext(r.Context(), "logout failed", "user_id", userID, "error", err)
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"ip": clientIP(r)})

	a.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, "Logout successful", nil)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	if err := a.sessions.LogoutAll(r.Context(), userID); err != nil {
		a.logger.ErrorContext(r.Context(), "logout all failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Logout from all devices failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{"ip": clientIP(r)})

	a.clearRefreshCookie(w)
	writeSuccess(w, http.StatusOK, "Logged out from all devices successfully", nil)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	userID, _ := auth.UserIDFromContext(r.Context())
	profile, err := a.sessions.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "User not found")
			return
		}
		a.logger.ErrorContext(r.Context(), "load profile failed", "user_id", userID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"user": profile})
}

func (a *API) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	data := map[string]any{
		"user":         principal.User,
		"valid":        true,
		"expiringSoon": a.sessions.Codec().ExpiringSoon(principal.Token, auth.DefaultExpiringSoonWindow),
	}
	if principal.Claims != nil && principal.Claims.ExpiresAt != nil {
		data["expiresAt"] = principal.Claims.ExpiresAt.Time.UTC()
	}
	writeSuccess(w, http.StatusOK, "", data)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	principal, ok := auth.PrincipalFromContext(r.Context())
	var user any
	if ok {
		user = principal.User
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{
		"isAuthenticated": ok,
		"user":            user,
	})
}

func (a *API) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	writeSuccess(w, http.StatusOK, "Welcome to the admin dashboard", map[string]any{
		"user": principal.User,
	})
}
