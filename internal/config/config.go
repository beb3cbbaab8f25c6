// Package config assembles runtime settings from defaults, environment
// variables and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"alyanspace.org/adminauth/internal/auth"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds runtime settings for the auth service.
type Config struct {
	Env      string
	HTTPAddr string
	GRPCAddr string

	JWTSecret        string
	JWTRefreshSecret string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Issuer           string

	AdminEmail        string
	AdminPassword     string
	AdminPasswordHash string
	BcryptCost        int

	DatabaseURL string
	RedisURL    string
	Store       string

	CORSOrigins      []string
	TrustedProxies   []netip.Prefix
	LogLevel         string
	RateLimitBackend string
	SweepInterval    time.Duration
	MigrateOnStart   bool
}

// LoadDefaults populates Config with development defaults. Secrets have no
// default and must be supplied.
func (c *Config) LoadDefaults() {
	c.Env = EnvDevelopment
	c.HTTPAddr = ":5000"
	c.GRPCAddr = ""
	c.AccessTTL = auth.DefaultAccessTTL
	c.RefreshTTL = auth.DefaultRefreshTTL
	c.Issuer = auth.DefaultIssuer
	c.AdminEmail = auth.DefaultAdminEmail
	c.BcryptCost = auth.DefaultPasswordCost
	c.CORSOrigins = []string{"http://localhost:3000"}
	c.LogLevel = "warn"
	c.RateLimitBackend = StoreMemory
	c.SweepInterval = time.Hour
}

// Load builds a Config from defaults, then the environment, then args
// (normally os.Args[1:]).
func Load(getenv func(string) string, args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	if c.Store == "" {
		switch {
		case c.DatabaseURL != "":
			c.Store = StorePostgres
		case c.RedisURL != "":
			c.Store = StoreRedis
		default:
			c.Store = StoreMemory
		}
	}
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	c.AdminEmail = auth.NormalizeEmail(c.AdminEmail)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// IsDevelopment reports whether development relaxations apply.
func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

// Validate reports missing or inconsistent settings. The error wraps
// auth.ErrMisconfigured.
func (c *Config) Validate() error {
	var problems []string
	switch c.Env {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		problems = append(problems, fmt.Sprintf("unknown APP_ENV %q", c.Env))
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.JWTRefreshSecret == "" {
		problems = append(problems, "JWT_REFRESH_SECRET is required")
	}
	if c.JWTSecret != "" && c.JWTSecret == c.JWTRefreshSecret {
		problems = append(problems, "JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		problems = append(problems, "token lifetimes must be positive")
	}
	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		problems = append(problems, "ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required")
	}
	if c.AdminPasswordHash != "" && !auth.IsPasswordHash(c.AdminPasswordHash) {
		problems = append(problems, "ADMIN_PASSWORD_HASH is not a bcrypt digest")
	}
	if !auth.ValidEmail(c.AdminEmail) {
		problems = append(problems, fmt.Sprintf("ADMIN_EMAIL %q is not a valid address", c.AdminEmail))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required for the redis store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORE %q", c.Store))
	}
	switch c.RateLimitBackend {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required for the redis rate limiter")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", auth.ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}
