package httpapi

import (
	"net/http"
	"strings"
	"time"
)

const refreshCookieName = "refreshToken"

func (a *API) setRefreshCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production,
		SameSite: http.SameSiteStrictMode,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshTokenFrom reads the refresh carrier: the cookie first, then a JSON
// body field. A missing or unreadable body yields "".
func refreshTokenFrom(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(refreshCookieName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	if r.Body == nil || r.ContentLength == 0 {
		return ""
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}
