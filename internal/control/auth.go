package control

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "Bearer "
)

// APIKeyCredentials attaches the key to every call as bearer metadata
func APIKeyCredentials(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, authorizationKey, bearerPrefix+apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// APIKeyInterceptor rejects calls without one of the accepted keys. With
// no keys configured every call is accepted.
func APIKeyInterceptor(keys ...string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if len(keys) == 0 {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get(authorizationKey) {
			if !strings.HasPrefix(v, bearerPrefix) {
				continue
			}
			got := []byte(strings.TrimPrefix(v, bearerPrefix))
			for _, k := range keys {
				if subtle.ConstantTimeCompare(got, []byte(k)) == 1 {
					return handler(ctx, req)
				}
			}
		}
		return nil, status.Error(codes.Unauthenticated, "invalid or missing API key")
	}
}
