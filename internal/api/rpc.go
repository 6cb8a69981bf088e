// Package api exposes the daemon over gRPC. Requests and responses are
// google.protobuf.Struct values; the service descriptors are declared here
// instead of generated.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/outbox"
	"github.com/matheus3301/golaco/internal/typing"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names.
const (
	OutboxServiceName   = "golaco.v1.OutboxService"
	PresenceServiceName = "golaco.v1.PresenceService"
	SessionServiceName  = "golaco.v1.SessionService"
)

// Handler serves one unary method.
type Handler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// StreamHandler serves one server-streaming method. send delivers one
// message to the caller.
type StreamHandler func(ctx context.Context, req *structpb.Struct, send func(*structpb.Struct) error) error

// Registrar is implemented by every service in this package.
type Registrar interface {
	Register(s grpc.ServiceRegistrar)
}

// FullMethod returns the gRPC method path for service and method.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

func serviceDesc(name string, unary map[string]Handler, streams map[string]StreamHandler) *grpc.ServiceDesc {
	sd := &grpc.ServiceDesc{
		ServiceName: name,
		HandlerType: (*any)(nil),
		Metadata:    "golaco/v1/" + name,
	}
	for method, h := range unary {
		sd.Methods = append(sd.Methods, grpc.MethodDesc{
			MethodName: method,
			Handler:    unaryHandler(FullMethod(name, method), h),
		})
	}
	for method, h := range streams {
		sd.Streams = append(sd.Streams, grpc.StreamDesc{
			StreamName:    method,
			Handler:       streamHandler(h),
			ServerStreams: true,
		})
	}
	return sd
}

func unaryHandler(fullMethod string, h Handler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h(ctx, req.(*structpb.Struct))
		})
	}
}

func streamHandler(h StreamHandler) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return h(stream.Context(), in, func(out *structpb.Struct) error {
			return stream.SendMsg(out)
		})
	}
}

// reply builds a response struct. Values must be JSON-like.
func reply(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

// toValue converts an arbitrary Go value to its JSON shape so structpb can
// hold it.
func toValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func str(req *structpb.Struct, key string) string {
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func optStr(req *structpb.Struct, key string) *string {
	v, ok := req.GetFields()[key]
	if !ok {
		return nil
	}
	if _, isStr := v.GetKind().(*structpb.Value_StringValue); !isStr {
		return nil
	}
	s := v.GetStringValue()
	return &s
}

func boolean(req *structpb.Struct, key string) (value, present bool) {
	v, ok := req.GetFields()[key]
	if !ok {
		return false, false
	}
	b, isBool := v.GetKind().(*structpb.Value_BoolValue)
	if !isBool {
		return false, false
	}
	return b.BoolValue, true
}

func required(req *structpb.Struct, key string) (string, error) {
	v := str(req, key)
	if v == "" {
		return "", grpcstatus.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, outbox.ErrNotAuthenticated),
		errors.Is(err, typing.ErrNoIdentity),
		errors.Is(err, auth.ErrNoSession):
		return grpcstatus.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, outbox.ErrNoConversation),
		errors.Is(err, outbox.ErrEmptyMessage),
		errors.Is(err, auth.ErrNoSubject):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	default:
		return grpcstatus.Error(codes.Internal, fmt.Sprintf("%s: %v", op, err))
	}
}
