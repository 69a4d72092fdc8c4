package appmgr

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/appmanager"
	"github.com/GriffinCanCode/AgentOS/appmanager/internal/domain/permission"
)

const authorizationKey = "authorization"

// Resolver maps a bearer token to a caller.
type Resolver interface {
	Resolve(token string) (appmanager.Caller, error)
}

// authenticate attaches the caller named by the bearer token in ctx. Requests
// without a token proceed as the anonymous caller.
func authenticate(ctx context.Context, tokens Resolver) (context.Context, error) {
	if tokens == nil {
		return ctx, nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(authorizationKey)
	if len(vals) == 0 {
		return ctx, nil
	}
	token, ok := permission.BearerToken(vals[0])
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "malformed authorization header")
	}
	caller, err := tokens.Resolve(token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return appmanager.WithCaller(ctx, caller), nil
}

// AuthUnaryInterceptor resolves the caller of unary calls.
func AuthUnaryInterceptor(tokens Resolver) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := authenticate(ctx, tokens)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// AuthStreamInterceptor resolves the caller of streams.
func AuthStreamInterceptor(tokens Resolver) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), tokens)
		if err != nil {
			return err
		}
		return handler(srv, &callerStream{ServerStream: ss, ctx: ctx})
	}
}

type callerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *callerStream) Context() context.Context { return s.ctx }

// tokenCredentials sends a bearer token with every call.
type tokenCredentials struct {
	token  string
	secure bool
}

func (c tokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{authorizationKey: "Bearer " + c.token}, nil
}

func (c tokenCredentials) RequireTransportSecurity() bool { return c.secure }
