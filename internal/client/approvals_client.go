package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pesio-ai/be-approvals/internal/workflow"
)

const approvalsService = "/approvals.v1.ApprovalService/"

// ApprovalsGRPCClient is the Go client for services that call the approvals
// gRPC API. Every call acts as the user set on the context with WithActor, or
// as the caller's own incoming x-user-id when it forwards a request.
type ApprovalsGRPCClient struct {
	conn *grpc.ClientConn
}

// NewApprovalsGRPCClient dials the approvals gRPC service and returns a client.
func NewApprovalsGRPCClient(addr string, opts ...grpc.DialOption) (*ApprovalsGRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	return &ApprovalsGRPCClient{conn: conn}, nil
}

// Close releases the underlying gRPC connection.
func (c *ApprovalsGRPCClient) Close() error {
	return c.conn.Close()
}

// SubmitInput is the payload of Submit.
type SubmitInput struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Category    string `json:"category,omitempty"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	SkipNext    bool   `json:"skip_next,omitempty"`
}

// Submit creates a new request.
func (c *ApprovalsGRPCClient) Submit(ctx context.Context, in SubmitInput) (*workflow.Request, error) {
	var out workflow.Request
	if err := c.call(ctx, "Submit", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve passes the current stage of a request.
func (c *ApprovalsGRPCClient) Approve(ctx context.Context, id string) (*workflow.Request, error) {
	return c.transition(ctx, "Approve", map[string]any{"id": id})
}

// Reject closes a request with a remark.
func (c *ApprovalsGRPCClient) Reject(ctx context.Context, id, remark string) (*workflow.Request, error) {
	return c.transition(ctx, "Reject", map[string]any{"id": id, "remark": remark})
}

// SkipToFinalStage moves a stage-1 request to its final stage.
func (c *ApprovalsGRPCClient) SkipToFinalStage(ctx context.Context, id string) (*workflow.Request, error) {
	return c.transition(ctx, "SkipToFinalStage", map[string]any{"id": id})
}

// GetRequest fetches a request by id.
func (c *ApprovalsGRPCClient) GetRequest(ctx context.Context, id string) (*workflow.Request, error) {
	return c.transition(ctx, "GetRequest", map[string]any{"id": id})
}

// GetHistory fetches the audit trail of a request, oldest first.
func (c *ApprovalsGRPCClient) GetHistory(ctx context.Context, id string) ([]*workflow.AuditEntry, error) {
	var out struct {
		Entries []*workflow.AuditEntry `json:"entries"`
	}
	if err := c.call(ctx, "GetHistory", map[string]any{"id": id}, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (c *ApprovalsGRPCClient) transition(ctx context.Context, method string, in map[string]any) (*workflow.Request, error) {
	var out workflow.Request
	if err := c.call(ctx, method, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ApprovalsGRPCClient) call(ctx context.Context, method string, in, out any) error {
	return invokeStruct(ctx, c.conn, approvalsService+method, in, out)
}
