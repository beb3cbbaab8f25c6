package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"alyanspace.org/adminauth/internal/auth"
	"alyanspace.org/adminauth/internal/obs"
)

const serviceName = "adminauth"

// SessionService is the session lifecycle the HTTP layer drives.
type SessionService interface {
	Authenticator
	Login(ctx context.Context, email, password, clientAddr string) (auth.Session, error)
	Rotate(ctx context.Context, refreshToken string) (auth.Session, error)
	Logout(ctx context.Context, refreshToken, identityID string) error
	LogoutAll(ctx context.Context, identityID string) error
	Profile(ctx context.Context, identityID string) (auth.Profile, error)
	Codec() *auth.Codec
}

// Pinger is anything that can report its own availability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe checks the credential store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Options configures the HTTP layer.
type Options struct {
	Version     string
	Production  bool
	CORSOrigins []string
	Limiter     Limiter
	Policies    Policies
	Logger      *slog.Logger
	// TrustedProxies lists peers whose X-Forwarded-For header is honoured.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	sessions   SessionService
	readyProbe readinessChecker
	limiter    Limiter
	policies   Policies
	logger     *slog.Logger
	version    string
	production bool
	origins    []string
	trusted    []netip.Prefix
	now        func() time.Time
}

func New(sessions SessionService, rp readinessChecker, opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   sessions,
		readyProbe: rp,
		limiter:    opts.Limiter,
		policies:   opts.Policies,
		logger:     opts.Logger,
		version:    opts.Version,
		production: opts.Production,
		origins:    opts.CORSOrigins,
		trusted:    opts.TrustedProxies,
		now:        time.Now,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.version == "" {
		a.version = "dev"
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	api := []Policy{a.policies.API}
	authAPI := []Policy{a.policies.API, a.policies.Auth}

	a.handle("/api/health", http.HandlerFunc(a.Health), api...)
	a.handle("/api", http.HandlerFunc(a.Welcome), api...)
	a.handle("/api/{$}", http.HandlerFunc(a.Welcome), api...)

	a.handle("/api/auth/login",
		a.rejectAuthenticated(http.HandlerFunc(a.handleLogin)),
		append(authAPI, a.policies.Login)...)
	a.handle("/api/auth/refresh", http.HandlerFunc(a.handleRefresh), authAPI...)
	a.handle("/api/auth/logout", a.optionalAuth(http.HandlerFunc(a.handleLogout)), authAPI...)
	a.handle("/api/auth/logout-all", a.requireAuth(http.HandlerFunc(a.handleLogoutAll)), authAPI...)
	a.handle("/api/auth/profile", a.requireAuth(http.HandlerFunc(a.handleProfile)), authAPI...)
	a.handle("/api/auth/validate", a.requireAuth(http.HandlerFunc(a.handleValidate)), authAPI...)
	a.handle("/api/auth/status", a.optionalAuth(http.HandlerFunc(a.handleStatus)), authAPI...)

	a.handle("/api/admin/dashboard",
		a.requireAuth(a.requireAdmin(http.HandlerFunc(a.handleAdminDashboard))), api...)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Route not found")
	})

	return a
}

// handle registers h behind the given rate-limit policies, outermost first.
func (a *API) handle(pattern string, h http.Handler, policies ...Policy) {
	for i := len(policies) - 1; i >= 0; i-- {
		h = RateLimit(h, a.limiter, policies[i])
	}
	a.mux.Handle(pattern, h)
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h, a.production)
	h = LoggingJSON(h)
	h = RealIP(h, a.trusted)
	h = RequestID(h)
	h = Recover(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		a.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "API is running",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Welcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Welcome to Alyan Space Backend API",
		"version": a.version,
	})
}
