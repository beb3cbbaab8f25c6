package config

import (
	"flag"
	"io"
	"time"
)

type durationValue struct{ d *time.Duration }

func (v durationValue) String() string {
	if v.d == nil {
		return ""
	}
	return v.d.String()
}

func (v durationValue) Set(raw string) error {
	d, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

// parseFlags overlays command-line flags on the config.
//
// Supported flags:
//
//	-env string            runtime environment
//	-http string           HTTP listen address
//	-grpc string           gRPC listen address (empty disables)
//	-store string          memory, postgres or redis
//	-db string             PostgreSQL DSN
//	-redis string          Redis URL
//	-log-level string      debug, info, warn or error
//	-access-ttl duration   access token lifetime
//	-refresh-ttl duration  refresh token lifetime ("7d" accepted)
//	-migrate               apply migrations at startup
func (c *Config) parseFlags(args []string) error {
	fs := flag.NewFlagSet("adminauth", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&c.Env, "env", c.Env, "runtime environment")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc", c.GRPCAddr, "gRPC listen address")
	fs.StringVar(&c.Store, "store", c.Store, "credential store backend")
	fs.StringVar(&c.DatabaseURL, "db", c.DatabaseURL, "PostgreSQL DSN")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	fs.Var(durationValue{&c.AccessTTL}, "access-ttl", "access token lifetime")
	fs.Var(durationValue{&c.RefreshTTL}, "refresh-ttl", "refresh token lifetime")
	fs.BoolVar(&c.MigrateOnStart, "migrate", c.MigrateOnStart, "apply migrations at startup")

	return fs.Parse(args)
}
