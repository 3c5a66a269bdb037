package transport

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the fully-qualified gRPC service name this package serves
// and dials, standing in for what protoc would have generated from a service
// definition; no .proto ships for this service (see the package doc comment).
const serviceName = "nexusbase.transport.VectorSnapshotTransport"

// TransportServer is implemented by Transport (server.go) and registered
// against a *grpc.Server via RegisterTransportServer.
type TransportServer interface {
	InstallVectorIndexSnapshot(ctx context.Context, req *InstallVectorIndexSnapshotRequest) (*InstallVectorIndexSnapshotResponse, error)
	GetVectorIndexSnapshot(ctx context.Context, req *GetVectorIndexSnapshotRequest) (*GetVectorIndexSnapshotResponse, error)
	GetFile(ctx context.Context, req *GetFileRequest) (*GetFileResponse, error)
	CleanFileReader(ctx context.Context, req *CleanFileReaderRequest) (*CleanFileReaderResponse, error)
}

func handleInstallVectorIndexSnapshot(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(InstallVectorIndexSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).InstallVectorIndexSnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/InstallVectorIndexSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).InstallVectorIndexSnapshot(ctx, req.(*InstallVectorIndexSnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleGetVectorIndexSnapshot(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetVectorIndexSnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).GetVectorIndexSnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetVectorIndexSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).GetVectorIndexSnapshot(ctx, req.(*GetVectorIndexSnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleGetFile(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GetFileRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).GetFile(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetFile"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).GetFile(ctx, req.(*GetFileRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func handleCleanFileReader(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(CleanFileReaderRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).CleanFileReader(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CleanFileReader"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).CleanFileReader(ctx, req.(*CleanFileReaderRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc build would emit,
// authored by hand since no .proto ships for this service.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InstallVectorIndexSnapshot", Handler: handleInstallVectorIndexSnapshot},
		{MethodName: "GetVectorIndexSnapshot", Handler: handleGetVectorIndexSnapshot},
		{MethodName: "GetFile", Handler: handleGetFile},
		{MethodName: "CleanFileReader", Handler: handleCleanFileReader},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nexusbase/transport/service.go",
}

// RegisterTransportServer registers impl on s.
func RegisterTransportServer(s *grpc.Server, impl TransportServer) {
	s.RegisterService(&serviceDesc, impl)
}
