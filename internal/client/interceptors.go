package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ActorMetadataKey carries the acting user's id on gRPC calls.
const ActorMetadataKey = "x-user-id"

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata to outgoing calls, so a caller's identity
// survives a hop through another service.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if out, ok := metadata.FromOutgoingContext(ctx); ok {
			md = metadata.Join(md, out)
		}
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

// WithActor returns a context whose outgoing calls act as actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, actorID)
}
