package httpapi

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"alyanspace.org/adminauth/internal/auth"
	"alyanspace.org/adminauth/internal/obs"
)

// GRPCServer serves grpc.health.v1 for the service, driven by readiness.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the health wrapper. Status starts NOT_SERVING until
// the first Check.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	if r == nil {
		r = ReadyProbe{}
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCServer{health: hs, readiness: r}
}

// Register attaches the health service to s.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Check evaluates readiness once and publishes the result.
func (s *GRPCServer) Check(ctx context.Context) error {
	st := healthpb.HealthCheckResponse_SERVING
	err := s.readiness.Check(ctx)
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	return err
}

// Watch re-checks readiness every interval until ctx is done.
func (s *GRPCServer) Watch(ctx context.Context, interval time.Duration) {
	_ = s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Check(ctx); err != nil && ctx.Err() == nil {
				obs.Logger().WarnContext(ctx, "grpc readiness check failed", "error", err)
			}
		}
	}
}

// Shutdown marks every service NOT_SERVING.
func (s *GRPCServer) Shutdown() { s.health.Shutdown() }

// AuthUnaryInterceptor authenticates every call outside the health service
// with the bearer token from the "authorization" metadata key.
func AuthUnaryInterceptor(authn Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		var token string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				token, _ = auth.ExtractBearer(vals[0])
			}
		}
		principal, err := authn.Authenticate(ctx, token)
		if err != nil {
			return nil, grpcAuthError(err)
		}
		return handler(auth.ContextWithPrincipal(ctx, principal), req)
	}
}

func grpcAuthError(err error) error {
	code, msg := gateError(err)
	if code >= 500 {
		return status.Error(codes.Internal, msg)
	}
	return status.Error(codes.Unauthenticated, msg)
}
