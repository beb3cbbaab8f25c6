package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"alyanspace.org/adminauth/internal/auth"
	"alyanspace.org/adminauth/internal/config"
	"alyanspace.org/adminauth/internal/httpapi"
	"alyanspace.org/adminauth/internal/migrate"
	"alyanspace.org/adminauth/internal/obs"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Error("fatal", "error", err)
		os.Exit(1)
	}
}

type backends struct {
	store auth.Store
	db    *sql.DB
	rdb   *redis.Client
}

func (b *backends) Close() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Store == config.StorePostgres {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		b.db = db
	}
	if cfg.RedisURL != "" && (cfg.Store == config.StoreRedis || cfg.RateLimitBackend == config.StoreRedis) {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		b.rdb = redis.NewClient(opts)
	}

	switch cfg.Store {
	case config.StorePostgres:
		if cfg.MigrateOnStart {
			if err := migrate.NewManager(b.db).Up(ctx); err != nil {
				b.Close()
				return nil, err
			}
		}
		b.store = auth.NewPGStore(b.db)
	case config.StoreRedis:
		b.store = auth.NewRedisStore(b.rdb, "adminauth")
	default:
		b.store = auth.NewMemoryStore()
	}
	return b, nil
}

func run() error {
	cfg, err := config.Load(os.Getenv, os.Args[1:])
	if err != nil {
		return err
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogLevel)
	obs.SetLogger(logger)
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit, cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	codec, err := auth.NewCodec(auth.CodecConfig{
		AccessSecret:  cfg.JWTSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		Issuer:        cfg.Issuer,
	})
	if err != nil {
		return err
	}
	adminSecret := cfg.AdminPasswordHash
	if adminSecret == "" {
		adminSecret = cfg.AdminPassword
	}
	svc, err := auth.NewService(b.store, codec,
		auth.WithAdminEmail(cfg.AdminEmail),
		auth.WithAdminPassword(adminSecret),
		auth.WithPasswordCost(cfg.BcryptCost),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var limiter httpapi.Limiter = httpapi.NewMemoryLimiter()
	if cfg.RateLimitBackend == config.StoreRedis {
		limiter = httpapi.NewRedisLimiter(b.rdb, "adminauth")
	}

	probe := httpapi.ReadyProbe{Store: b.store}
	api := httpapi.New(svc, probe, httpapi.Options{
		Version:        version,
		Production:     cfg.IsProduction(),
		CORSOrigins:    cfg.CORSOrigins,
		Limiter:        limiter,
		Policies:       httpapi.DefaultPolicies(cfg.IsDevelopment()),
		Logger:         logger,
		TrustedProxies: cfg.TrustedProxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Warn("http server starting", "addr", srv.Addr, "version", version, "env", cfg.Env, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		health := httpapi.NewGRPCServer(probe)
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(httpapi.AuthUnaryInterceptor(svc)))
		health.Register(grpcSrv)
		httpapi.NewSessionRPC(svc).Register(grpcSrv)
		go health.Watch(ctx, 10*time.Second)
		go func() {
			logger.Warn("grpc server starting", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
		defer health.Shutdown()
	}

	go svc.RunSweeper(ctx, cfg.SweepInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		logger.Error("server failed", "error", err)
	}
	logger.Warn("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Warn("stopped")
	return nil
}
