package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	Sessions SessionResolver

	// RequireAuth rejects calls without a logged in session.
	RequireAuth bool

	// PublicMethods are full method names ("/pkg.Service/Method") exempt
	// from RequireAuth.
	PublicMethods map[string]bool

	// TrustForwardedUser accepts x-user-id from upstream services when no
	// session id is sent. Enable only behind a trusted hop.
	TrustForwardedUser bool
}

// NewInterceptorConfig requires auth for every method except publicMethods.
func NewInterceptorConfig(sessions SessionResolver, publicMethods ...string) *InterceptorConfig {
	c := &InterceptorConfig{
		Sessions:      sessions,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, m := range publicMethods {
		c.PublicMethods[m] = true
	}
	return c
}

func (c *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	userID := resolveUserID(ctx, c.Sessions)
	if userID == "" && c.TrustForwardedUser {
		userID = ForwardedUserID(ctx)
	}
	if userID == "" {
		if c.RequireAuth && !c.PublicMethods[method] {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	return WithUserID(ctx, userID), nil
}

// UnaryAuthInterceptor resolves the caller's session for unary calls.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor resolves the caller's session for streaming calls.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}
