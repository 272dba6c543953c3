package transportgrpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/repository"
	"github.com/arklim/social-platform-profiles/internal/transport/grpc/interceptors"
	"github.com/arklim/social-platform-profiles/internal/usecase"
)

// CommandServiceName is the fully qualified gRPC service name.
const CommandServiceName = "profiles.v1.CommandService"

// CommandService is the saga surface exposed over gRPC.
type CommandService interface {
	Submit(ctx context.Context, msg domain.SubmitCommand) (string, error)
	GetSaga(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
}

// CommandServer serves profiles.v1.CommandService. Requests and responses are
// google.protobuf.Struct documents carrying the same fields as the HTTP API.
type CommandServer struct {
	commands CommandService
}

// NewCommandServer constructs the server.
func NewCommandServer(commands CommandService) *CommandServer {
	return &CommandServer{commands: commands}
}

// SubmitCommand starts a saga. Fields: command, data, id, collecting_id.
func (s *CommandServer) SubmitCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	kind := fields["command"].GetStringValue()
	if kind == "" {
		return nil, status.Error(codes.InvalidArgument, "command is required")
	}
	data, ok := fields["data"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "data is required")
	}
	raw, err := json.Marshal(data.AsInterface())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "data is not valid json")
	}

	msg := domain.SubmitCommand{
		Command: domain.CommandKind(kind),
		Data:    raw,
		ID: domain.CommandIdentifier{
			ID:           fields["id"].GetStringValue(),
			CollectingID: fields["collecting_id"].GetStringValue(),
		},
	}
	if initiator, ok := interceptors.InitiatorFromContext(ctx); ok {
		msg.Initiator = initiator
	}

	id, err := s.commands.Submit(ctx, msg)
	if err != nil && id == "" {
		return nil, toStatus(err, "failed to submit command")
	}
	return structpb.NewStruct(map[string]any{"correlation_id": id})
}

// GetSaga returns one in-flight saga. Fields: correlation_id.
func (s *CommandServer) GetSaga(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["correlation_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation_id is required")
	}
	saga, err := s.commands.GetSaga(ctx, id)
	if err != nil {
		return nil, toStatus(err, "failed to load saga")
	}

	resp := map[string]any{
		"correlation_id":  saga.CorrelationID,
		"command":         string(saga.Command),
		"state":           string(saga.CurrentState),
		"entity_id":       saga.EntityID,
		"version":         float64(saga.Version),
		"execution_round": float64(saga.ExecutionRound),
		"created_at":      saga.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      saga.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if saga.Exception != nil {
		resp["exception"] = saga.Exception.Message
	}
	return structpb.NewStruct(resp)
}

func toStatus(err error, fallback string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status.Error(codes.NotFound, "saga not found")
	case errors.Is(err, usecase.ErrSagaIDRequired):
		return status.Error(codes.InvalidArgument, "correlation id is required")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		return status.Error(codes.Internal, fallback)
	}
}

type commandServiceServer interface {
	SubmitCommand(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSaga(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryStructHandler(fullMethod string, call func(commandServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(commandServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(server, ctx, req.(*structpb.Struct))
		})
	}
}

// CommandServiceDesc describes profiles.v1.CommandService for grpc.Server registration.
var CommandServiceDesc = grpc.ServiceDesc{
	ServiceName: CommandServiceName,
	HandlerType: (*commandServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitCommand",
			Handler: unaryStructHandler("/"+CommandServiceName+"/SubmitCommand", func(s commandServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.SubmitCommand(ctx, in)
			}),
		},
		{
			MethodName: "GetSaga",
			Handler: unaryStructHandler("/"+CommandServiceName+"/GetSaga", func(s commandServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetSaga(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}
