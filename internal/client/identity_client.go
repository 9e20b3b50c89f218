package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const identityService = "/platform.v1.IdentityService/"

// IdentityGRPCClient resolves roles against the platform identity service.
// It satisfies workflow.RoleDirectory and replaces the local user_roles table
// when IDENTITY_GRPC_ADDR is set.
type IdentityGRPCClient struct {
	conn   *grpc.ClientConn
	entity string
}

// NewIdentityGRPCClient dials the identity gRPC service. entityID scopes
// every lookup; empty means the identity service default.
func NewIdentityGRPCClient(addr, entityID string, opts ...grpc.DialOption) (*IdentityGRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &IdentityGRPCClient{conn: conn, entity: entityID}, nil
}

// Close releases the underlying gRPC connection.
func (c *IdentityGRPCClient) Close() error {
	return c.conn.Close()
}

type userRolesResponse struct {
	Roles []string `json:"roles"`
}

type usersWithRoleResponse struct {
	UserIDs []string `json:"user_ids"`
}

// RolesOf returns the roles a user holds. A user unknown to the identity
// service holds none.
func (c *IdentityGRPCClient) RolesOf(ctx context.Context, userID string) (workflow.RoleSet, error) {
	var out userRolesResponse
	err := invokeStruct(ctx, c.conn, identityService+"GetUserRoles",
		map[string]string{"user_id": userID, "entity_id": c.entity}, &out)
	if status.Code(err) == codes.NotFound {
		return workflow.NewRoleSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get roles of %s: %w", userID, err)
	}
	return workflow.NewRoleSet(out.Roles...), nil
}

// MembersOf returns the user IDs holding role.
func (c *IdentityGRPCClient) MembersOf(ctx context.Context, role string) ([]string, error) {
	var out usersWithRoleResponse
	err := invokeStruct(ctx, c.conn, identityService+"GetUsersWithRole",
		map[string]string{"role": role, "entity_id": c.entity}, &out)
	if err != nil {
		return nil, fmt.Errorf("get members of %s: %w", role, err)
	}
	return out.UserIDs, nil
}
