package grpcengine

import (
	"context"
	"fmt"
	"net"

	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"google.golang.org/grpc"
)

// Server hosts the engine service.
type Server struct {
	server *grpc.Server
}

// NewServer returns a server dispatching to registry.
func NewServer(registry *engine.Registry, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainStreamInterceptor(recoveryInterceptor, loggingInterceptor),
	}, opts...)
	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, registryServer{registry: registry})
	return &Server{server: s}
}

// ListenAndServe listens on the TCP address addr and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logging.Op().Info("gRPC engine listening", "addr", lis.Addr().String())
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()
	return s.server.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}
