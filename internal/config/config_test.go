package config

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alyanspace.org/adminauth/internal/auth"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(envMap(nil), nil)
	require.NoError(t, err)

	want := &Config{
		Env:              EnvDevelopment,
		HTTPAddr:         ":5000",
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		Issuer:           "alyanspace",
		AdminEmail:       "admin@alyanspace.com",
		BcryptCost:       12,
		Store:            StoreMemory,
		CORSOrigins:      []string{"http://localhost:3000"},
		LogLevel:         "warn",
		RateLimitBackend: StoreMemory,
		SweepInterval:    time.Hour,
	}
	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoadEnvAndFlags(t *testing.T) {
	env := envMap(map[string]string{
		"APP_ENV":             "Production",
		"HTTP_ADDR":           ":8080",
		"JWT_SECRET":          "a",
		"JWT_REFRESH_SECRET":  "b",
		"JWT_EXPIRE":          "10m",
		"JWT_REFRESH_EXPIRE":  "14d",
		"ADMIN_EMAIL":         " Root@Example.com ",
		"ADMIN_PASSWORD":      "secret",
		"BCRYPT_COST":         "10",
		"DATABASE_URL":        "postgres://localhost/auth",
		"CORS_ORIGINS":        "https://a.example, ,https://b.example",
		"MIGRATE_ON_START":    "true",
		"SWEEP_INTERVAL":      "30m",
		"RATE_LIMIT_BACKEND":  "memory",
		"ADMIN_PASSWORD_HASH": "",
		"TRUSTED_PROXIES":     "10.0.0.0/8, 192.0.2.10",
	})
	cfg, err := Load(env, []string{"-http", ":9090", "-access-ttl", "5m", "-log-level", "debug"})
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, "root@example.com", cfg.AdminEmail)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 30*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.0.2.10/32"),
	}, cfg.TrustedProxies)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(envMap(map[string]string{"JWT_EXPIRE": "soon"}), nil)
	assert.Error(t, err)
	_, err = Load(envMap(map[string]string{"BCRYPT_COST": "high"}), nil)
	assert.Error(t, err)
	_, err = Load(envMap(map[string]string{"TRUSTED_PROXIES": "10.0.0.0/33"}), nil)
	assert.Error(t, err)
	_, err = Load(envMap(map[string]string{"TRUSTED_PROXIES": "proxy.local"}), nil)
	assert.Error(t, err)
	_, err = Load(envMap(nil), []string{"-unknown"})
	assert.Error(t, err)
}

func TestStoreInference(t *testing.T) {
	cfg, err := Load(envMap(map[string]string{"REDIS_URL": "redis://localhost:6379/0"}), nil)
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store)

	cfg, err = Load(envMap(map[string]string{"REDIS_URL": "redis://x", "STORE": "Memory"}), nil)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(envMap(map[string]string{
			"JWT_SECRET":         "access",
			"JWT_REFRESH_SECRET": "refresh",
			"ADMIN_PASSWORD":     "secret",
		}), nil)
		require.NoError(t, err)
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing access secret", func(c *Config) { c.JWTSecret = "" }},
		{"missing refresh secret", func(c *Config) { c.JWTRefreshSecret = "" }},
		{"equal secrets", func(c *Config) { c.JWTRefreshSecret = c.JWTSecret }},
		{"zero ttl", func(c *Config) { c.AccessTTL = 0 }},
		{"no admin credential", func(c *Config) { c.AdminPassword = "" }},
		{"bad hash", func(c *Config) { c.AdminPasswordHash = "plain" }},
		{"bad email", func(c *Config) { c.AdminEmail = "nobody" }},
		{"unknown env", func(c *Config) { c.Env = "staging" }},
		{"postgres without dsn", func(c *Config) { c.Store = StorePostgres }},
		{"redis without url", func(c *Config) { c.Store = StoreRedis }},
		{"unknown store", func(c *Config) { c.Store = "mongo" }},
		{"redis limiter without url", func(c *Config) { c.RateLimitBackend = StoreRedis }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, auth.ErrMisconfigured))
		})
	}
}

func TestParsePrefixes(t *testing.T) {
	got, err := ParsePrefixes([]string{"10.1.2.3/8", "::1", "::ffff:192.0.2.1"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
		netip.MustParsePrefix("192.0.2.1/32"),
	}, got)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":   7 * 24 * time.Hour,
		"15m":  15 * time.Minute,
		" 1h ": time.Hour,
		"0d":   0,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "d", "1.5d", "week"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}
