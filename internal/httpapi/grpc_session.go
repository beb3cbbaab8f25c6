package httpapi

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"alyanspace.org/adminauth/internal/auth"
)

const sessionRPCService = "adminauth.v1.Session"

// SessionRPCServer is the gRPC surface for authenticated callers. Requests
// reach it only after AuthUnaryInterceptor has attached a principal.
type SessionRPCServer interface {
	Profile(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Validate(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type sessionReader interface {
	Profile(ctx context.Context, identityID string) (auth.Profile, error)
	Codec() *auth.Codec
}

// SessionRPC implements SessionRPCServer over the session service.
type SessionRPC struct {
	sessions sessionReader
}

var _ SessionRPCServer = (*SessionRPC)(nil)

func NewSessionRPC(sessions sessionReader) *SessionRPC {
	return &SessionRPC{sessions: sessions}
}

// Register attaches the session service to srv.
func (s *SessionRPC) Register(srv *grpc.Server) {
	srv.RegisterService(&sessionServiceDesc, s)
}

func (s *SessionRPC) Profile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, msgTokenRequired)
	}
	profile, err := s.sessions.Profile(ctx, principal.User.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "User not found")
		}
		return nil, status.Error(codes.Internal, "Failed to get profile")
	}
	return structpb.NewStruct(map[string]any{"user": profileFields(profile)})
}

func (s *SessionRPC) Validate(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, msgTokenRequired)
	}
	fields := map[string]any{
		"user":         profileFields(principal.User),
		"valid":        true,
		"expiringSoon": s.sessions.Codec().ExpiringSoon(principal.Token, auth.DefaultExpiringSoonWindow),
	}
	if principal.Claims != nil && principal.Claims.ExpiresAt != nil {
		fields["expiresAt"] = principal.Claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(fields)
}

func profileFields(p auth.Profile) map[string]any {
	out := map[string]any{
		"id":        p.ID,
		"email":     p.Email,
		"role":      string(p.Role),
		"isActive":  p.IsActive,
		"createdAt": p.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.LastLoginAt != nil {
		out["lastLogin"] = p.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return out
}

func sessionProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionRPCServer).Profile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + sessionRPCService + "/Profile"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionRPCServer).Profile(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func sessionValidateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionRPCServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + sessionRPCService + "/Validate"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionRPCServer).Validate(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var sessionServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionRPCService,
	HandlerType: (*SessionRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Profile", Handler: sessionProfileHandler},
		{MethodName: "Validate", Handler: sessionValidateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "",
}
