// Package control implements the control channel between the shell and a
// worker: a small gRPC service whose payloads are well-known protobuf
// Struct and Empty messages, so neither side needs generated code.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "craftstudio.control.v1.ControlService"

// Method names
const (
	MethodStatus           = "Status"
	MethodListPeers        = "ListPeers"
	MethodSetRuntimeConfig = "SetRuntimeConfig"
	MethodGetRuntimeConfig = "GetRuntimeConfig"
	MethodCall             = "Call"
)

// FullMethod returns "/<service>/<method>"
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Handler is implemented by a worker to serve the control service
type Handler interface {
	Status(ctx context.Context) (*structpb.Struct, error)
	ListPeers(ctx context.Context) (*structpb.Struct, error)
	SetRuntimeConfig(ctx context.Context, patch *structpb.Struct) (*structpb.Struct, error)
	GetRuntimeConfig(ctx context.Context) (*structpb.Struct, error)
	// Call dispatches worker-owned methods not covered above. The request
	// carries "method" and "params".
	Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterControlServer registers h on a gRPC server
func RegisterControlServer(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// ServiceDesc describes the control service for grpc.Server
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodStatus, Handler: emptyHandler(MethodStatus, Handler.Status)},
		{MethodName: MethodListPeers, Handler: emptyHandler(MethodListPeers, Handler.ListPeers)},
		{MethodName: MethodGetRuntimeConfig, Handler: emptyHandler(MethodGetRuntimeConfig, Handler.GetRuntimeConfig)},
		{MethodName: MethodSetRuntimeConfig, Handler: structHandler(MethodSetRuntimeConfig, Handler.SetRuntimeConfig)},
		{MethodName: MethodCall, Handler: structHandler(MethodCall, Handler.Call)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "craftstudio/control/v1/control.proto",
}

// emptyHandler adapts a method that takes no request payload
func emptyHandler(method string, fn func(Handler, context.Context) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, _ interface{}) (interface{}, error) {
			return fn(srv.(Handler), ctx)
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, call)
	}
}

// structHandler adapts a method that takes a Struct payload
func structHandler(method string, fn func(Handler, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(Handler), ctx, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, call)
	}
}
