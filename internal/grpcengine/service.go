// Package grpcengine carries engine requests over gRPC. The service has a
// single server-streaming method whose request and response messages are
// google.protobuf.Struct values, so no generated stubs are needed.
package grpcengine

import (
	"github.com/iut62elec/CIMApplication/internal/engine"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "cim.engine.v1.Engine"
	// ExecuteMethod is the full method name of Execute.
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// EngineServer is the server API of the engine service.
type EngineServer interface {
	Execute(req *structpb.Struct, stream grpc.ServerStream) error
}

var executeStream = grpc.StreamDesc{
	StreamName:    "Execute",
	ServerStreams: true,
}

// ServiceDesc describes the engine service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    executeStream.StreamName,
		ServerStreams: true,
		Handler:       executeHandler,
	}},
	Metadata: "cim/engine/v1/engine.proto",
}

func executeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EngineServer).Execute(req, stream)
}

// registryServer adapts an engine registry to EngineServer.
type registryServer struct {
	registry *engine.Registry
}

func (s registryServer) Execute(req *structpb.Struct, stream grpc.ServerStream) error {
	return s.registry.Serve(stream.Context(), "grpc", req, func(msg *structpb.Struct) error {
		return stream.SendMsg(msg)
	})
}
