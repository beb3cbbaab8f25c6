package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"alyanspace.org/adminauth/internal/audit"
	"alyanspace.org/adminauth/internal/auth"
)

const authHeader = "Authorization"

// Gate messages.
const (
	msgTokenRequired        = "Access token is required"
	msgSessionExpired       = "Session expired. Please login again."
	msgInvalidToken         = "Invalid or expired token"
	msgUserUnavailable      = "User not found or inactive"
	msgAccessDenied         = "Access denied. Admin privileges required."
	msgAlreadyAuthenticated = "User already authenticated"
	msgInvalidBody          = "Invalid request body"
)

// Authenticator turns an access token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (auth.Principal, error)
}

// gateError maps an authentication failure to a status and a client message.
func gateError(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrTokenRequired):
		return http.StatusUnauthorized, msgTokenRequired
	case errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized, msgSessionExpired
	case errors.Is(err, auth.ErrTokenInvalid):
		return http.StatusUnauthorized, msgInvalidToken
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, msgUserUnavailable
	default:
		return http.StatusInternalServerError, "Authentication error"
	}
}

// requireAuth rejects requests without a valid access token for an active identity.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := auth.ExtractBearer(r.Header.Get(authHeader))
		principal, err := a.sessions.Authenticate(r.Context(), token)
		if err != nil {
			code, msg := gateError(err)
			level := slog.LevelWarn
			if code >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			a.logger.Log(r.Context(), level, "authentication rejected",
				"path", r.URL.Path, "ip", clientIP(r), "error", err)
			writeError(w, r, code, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// optionalAuth attaches a principal when a usable token is presented and
// otherwise passes the request through untouched.
func (a *API) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearer(r.Header.Get(authHeader))
		if ok {
			if principal, err := a.sessions.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(auth.ContextWithPrincipal(r.Context(), principal))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// authorize admits principals holding one of roles; an empty list admits
// any authenticated principal. It must run after requireAuth.
func (a *API) authorize(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, msgTokenRequired)
				return
			}
			if !principal.HasRole(roles...) {
				attempted := make([]string, 0, len(roles))
				for _, role := range roles {
					attempted = append(attempted, string(role))
				}
				_ = audit.LogEvent(r.Context(), "auth.access_denied", map[string]any{
					"role":     string(principal.User.Role),
					"required": attempted,
					"ip":       clientIP(r),
					"path":     r.URL.Path,
				})
				writeError(w, r, http.StatusForbidden, msgAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return a.authorize(auth.RoleAdmin)(next)
}

// rejectAuthenticated refuses requests that already carry a valid access
// token. Unusable tokens are ignored.
func (a *API) rejectAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := auth.ExtractBearer(r.Header.Get(authHeader)); ok {
			if _, err := a.sessions.Codec().Verify(token, auth.TokenAccess); err == nil {
				writeError(w, r, http.StatusBadRequest, msgAlreadyAuthenticated)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
