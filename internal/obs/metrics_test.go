package obs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/api/health":             "/api/health",
		"/api/auth/login":         "/api/auth/login",
		"/api/auth/login/":        "/api/auth/login",
		"/api/auth/status?x=1":    "/api/auth/status",
		"/api/admin/dashboard":    "/api/admin/dashboard",
		"/wp-login.php":           "other",
		"/api/unknown/abc?limit=": "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentExposesRequestMetrics(t *testing.T) {
	Init()
	Init()

	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil))
	ObserveLogin("success")
	ObserveRateLimited("login")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`http_requests_total{method="POST",path="/api/auth/refresh",status="202"}`,
		`auth_logins_total{result="success"}`,
		`auth_rate_limited_total{policy="login"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
