package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/ctxreg/internal/rpc"
)

// RegistryServiceServer is the server API of ctxreg.v1.RegistryService.
type RegistryServiceServer interface {
	Create(context.Context, *rpc.CreateRequest) (*rpc.RecordResponse, error)
	Update(context.Context, *rpc.UpdateRequest) (*rpc.RecordResponse, error)
	Get(context.Context, *rpc.GetRequest) (*rpc.RecordResponse, error)
	List(context.Context, *rpc.ListRequest) (*rpc.ListResponse, error)
	ListAll(context.Context, *rpc.ListAllRequest) (*rpc.ListAllResponse, error)
	Delete(context.Context, *rpc.DeleteRequest) (*rpc.DeleteResponse, error)
	VerifyName(context.Context, *rpc.VerifyNameRequest) (*rpc.VerifyNameResponse, error)
	Health(context.Context, *rpc.HealthRequest) (*rpc.HealthResponse, error)
}

// registryServiceDesc describes the service for grpc.Server.RegisterService.
// Messages are plain Go structs carried by the rpc JSON codec.
var registryServiceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*RegistryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: unaryHandler(rpc.MethodCreate, RegistryServiceServer.Create)},
		{MethodName: "Update", Handler: unaryHandler(rpc.MethodUpdate, RegistryServiceServer.Update)},
		{MethodName: "Get", Handler: unaryHandler(rpc.MethodGet, RegistryServiceServer.Get)},
		{MethodName: "List", Handler: unaryHandler(rpc.MethodList, RegistryServiceServer.List)},
		{MethodName: "ListAll", Handler: unaryHandler(rpc.MethodListAll, RegistryServiceServer.ListAll)},
		{MethodName: "Delete", Handler: unaryHandler(rpc.MethodDelete, RegistryServiceServer.Delete)},
		{MethodName: "VerifyName", Handler: unaryHandler(rpc.MethodVerifyName, RegistryServiceServer.VerifyName)},
		{MethodName: "Health", Handler: unaryHandler(rpc.MethodHealth, RegistryServiceServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ctxreg/v1/registry",
}

// unaryHandler adapts a typed service method to grpc.MethodHandler.
func unaryHandler[Req, Resp any](fullMethod string, call func(RegistryServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RegistryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RegistryServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// NewGRPCServer creates a gRPC server with standard interceptors, registers
// the RegistryService and the standard health service, and returns the
// server ready to serve.
func NewGRPCServer(registryServer *RegistryServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(registryServer.logger),
			LoggingInterceptor(registryServer.logger),
			AuthInterceptor(authToken),
		),
	)

	srv.RegisterService(&registryServiceDesc, registryServer)

	hs := health.NewServer()
	hs.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}
