package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

func (c *Config) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("APP_ENV", &c.Env)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("JWT_SECRET", &c.JWTSecret)
	str("JWT_REFRESH_SECRET", &c.JWTRefreshSecret)
	str("JWT_ISSUER", &c.Issuer)
	str("ADMIN_EMAIL", &c.AdminEmail)
	str("ADMIN_PASSWORD", &c.AdminPassword)
	str("ADMIN_PASSWORD_HASH", &c.AdminPasswordHash)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("STORE", &c.Store)
	str("LOG_LEVEL", &c.LogLevel)
	str("RATE_LIMIT_BACKEND", &c.RateLimitBackend)

	if v := getenv("CORS_ORIGINS"); strings.TrimSpace(v) != "" {
		c.CORSOrigins = SplitList(v)
	}
	if v := getenv("TRUSTED_PROXIES"); strings.TrimSpace(v) != "" {
		prefixes, err := ParsePrefixes(SplitList(v))
		if err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		c.TrustedProxies = prefixes
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"JWT_EXPIRE", &c.AccessTTL},
		{"JWT_REFRESH_EXPIRE", &c.RefreshTTL},
		{"SWEEP_INTERVAL", &c.SweepInterval},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(getenv(d.key))
		if raw == "" {
			continue
		}
		v, err := ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if raw := strings.TrimSpace(getenv("BCRYPT_COST")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("BCRYPT_COST: %w", err)
		}
		c.BcryptCost = n
	}
	if raw := strings.TrimSpace(getenv("MIGRATE_ON_START")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("MIGRATE_ON_START: %w", err)
		}
		c.MigrateOnStart = b
	}
	return nil
}

// ParseDuration accepts time.ParseDuration syntax plus a whole-day "d"
// suffix such as "7d".
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParsePrefixes parses CIDR blocks; a bare address is taken as a
// single-host prefix.
func ParsePrefixes(items []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(items))
	for _, item := range items {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q", item)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q", item)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
