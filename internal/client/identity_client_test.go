package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeIdentity serves the two identity RPCs from fixed tables.
type fakeIdentity struct {
	roles   map[string][]any
	members map[string][]any
	seen    []map[string]any
}

func (f *fakeIdentity) desc() *grpc.ServiceDesc {
	handle := func(fn func(in map[string]any) (map[string]any, error)) grpc.MethodHandler {
		return func(_ any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			f.seen = append(f.seen, in.AsMap())
			out, err := fn(in.AsMap())
			if err != nil {
				return nil, err
			}
			return structpb.NewStruct(out)
		}
	}
	return &grpc.ServiceDesc{
		ServiceName: "platform.v1.IdentityService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetUserRoles", Handler: handle(func(in map[string]any) (map[string]any, error) {
				roles, ok := f.roles[in["user_id"].(string)]
				if !ok {
					return nil, status.Error(codes.NotFound, "user not found")
				}
				return map[string]any{"roles": roles}, nil
			})},
			{MethodName: "GetUsersWithRole", Handler: handle(func(in map[string]any) (map[string]any, error) {
				if in["role"] == "Broken" {
					return nil, status.Error(codes.Unavailable, "directory offline")
				}
				return map[string]any{"user_ids": f.members[in["role"].(string)]}, nil
			})},
		},
	}
}

func newIdentityClient(t *testing.T, f *fakeIdentity) *IdentityGRPCClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(f.desc(), f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewIdentityGRPCClient("passthrough:///bufnet", "region-7",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func identityCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIdentityGRPCClient_RolesOf(t *testing.T) {
	f := &fakeIdentity{roles: map[string][]any{"u-1": {"Budget", "Accounting"}}}
	c := newIdentityClient(t, f)

	roles, err := c.RolesOf(identityCtx(t), "u-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Accounting", "Budget"}, roles.Sorted())

	require.Len(t, f.seen, 1)
	assert.Equal(t, "region-7", f.seen[0]["entity_id"])
}

func TestIdentityGRPCClient_UnknownUserHasNoRoles(t *testing.T) {
	c := newIdentityClient(t, &fakeIdentity{})

	roles, err := c.RolesOf(identityCtx(t), "ghost")
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestIdentityGRPCClient_MembersOf(t *testing.T) {
	c := newIdentityClient(t, &fakeIdentity{members: map[string][]any{"Cashier": {"u-3", "u-9"}}})

	members, err := c.MembersOf(identityCtx(t), "Cashier")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-3", "u-9"}, members)

	_, err = c.MembersOf(identityCtx(t), "Broken")
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
