package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-approvals/internal/service"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "approvals.v1.ApprovalService"

// ActorMetadataKey is the gRPC metadata key carrying the acting user.
const ActorMetadataKey = "x-user-id"

// ApprovalServer is the gRPC surface. Messages are google.protobuf.Struct
// values whose fields mirror the JSON API.
type ApprovalServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SkipToFinalStage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRequest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ApprovalServiceDesc describes ApprovalServer for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ApprovalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: unary("Submit", ApprovalServer.Submit)},
		{MethodName: "Approve", Handler: unary("Approve", ApprovalServer.Approve)},
		{MethodName: "Reject", Handler: unary("Reject", ApprovalServer.Reject)},
		{MethodName: "SkipToFinalStage", Handler: unary("SkipToFinalStage", ApprovalServer.SkipToFinalStage)},
		{MethodName: "GetRequest", Handler: unary("GetRequest", ApprovalServer.GetRequest)},
		{MethodName: "GetHistory", Handler: unary("GetHistory", ApprovalServer.GetHistory)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvals/v1/approvals.proto",
}

func unary(method string, call func(ApprovalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ApprovalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ApprovalServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCHandler implements ApprovalServer on top of the approval service.
type GRPCHandler struct {
	service *service.ApprovalService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc *service.ApprovalService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		service: svc,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register adds the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

// Submit creates a request. Fields: kind, title, category, amount,
// description, skip_next.
func (h *GRPCHandler) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := amountField(in)
	if err != nil {
		return nil, err
	}

	req, err := h.service.Submit(ctx, service.SubmitRequest{
		Kind:        stringField(in, "kind"),
		Title:       stringField(in, "title"),
		Category:    stringField(in, "category"),
		Amount:      amount,
		Description: stringField(in, "description"),
		SkipNext:    in.GetFields()["skip_next"].GetBoolValue(),
	}, actor)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// Approve passes the current stage of request "id".
func (h *GRPCHandler) Approve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	req, err := h.service.Approve(ctx, stringField(in, "id"), actor)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// Reject closes request "id" with "remark".
func (h *GRPCHandler) Reject(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	req, err := h.service.Reject(ctx, stringField(in, "id"), actor, stringField(in, "remark"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// SkipToFinalStage moves request "id" to its final stage.
func (h *GRPCHandler) SkipToFinalStage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	req, err := h.service.SkipToFinalStage(ctx, stringField(in, "id"), actor)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// GetRequest returns request "id".
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := h.service.Get(ctx, stringField(in, "id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(req)
}

// GetHistory returns the audit trail of request "id" under "entries".
func (h *GRPCHandler) GetHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	entries, err := h.service.History(ctx, stringField(in, "id"))
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]any{"entries": entries})
}

// ── interceptors ──────────────────────────────────────────────────────────────

// ActorInterceptor copies the x-user-id metadata value into the context.
func ActorInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(ActorMetadataKey); len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
			ctx = middleware.WithActor(ctx, strings.TrimSpace(vals[0]))
		}
	}
	return handler(ctx, req)
}

// LoggingInterceptor logs every unary call with its outcome.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		evt := log.Info()
		if code == codes.Internal || code == codes.Unknown {
			evt = log.Error().Err(err)
		}
		evt.Str("method", info.FullMethod).
			Str("code", code.String()).
			Str("actor_id", middleware.ActorFromContext(ctx)).
			Dur("duration", time.Since(start)).
			Msg("gRPC call")
		return resp, err
	}
}

// ── conversion helpers ────────────────────────────────────────────────────────

func requireActor(ctx context.Context) (string, error) {
	actor := middleware.ActorFromContext(ctx)
	if actor == "" {
		return "", status.Error(codes.Unauthenticated, ActorMetadataKey+" metadata is required")
	}
	return actor, nil
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func amountField(in *structpb.Struct) (int64, error) {
	v, ok := in.GetFields()["amount"]
	if !ok {
		return 0, nil
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, status.Error(codes.InvalidArgument, "amount must be a whole number of centavos")
	}
	return int64(n), nil
}

// toStruct converts v through its JSON form, so gRPC and HTTP responses
// carry identical field names.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(classify(err).code, err.Error())
}

var _ ApprovalServer = (*GRPCHandler)(nil)
