package grpcengine

import (
	"fmt"
	"time"

	"github.com/iut62elec/CIMApplication/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs every stream.
func loggingInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	duration := time.Since(start)

	if err != nil {
		logging.Op().Error("gRPC stream failed",
			"method", info.FullMethod,
			"duration", duration,
			"error", err,
		)
	} else {
		logging.Op().Debug("gRPC stream completed",
			"method", info.FullMethod,
			"duration", duration,
		)
	}
	return err
}

// recoveryInterceptor turns a handler panic into an Internal status.
func recoveryInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("gRPC handler panic", "method", info.FullMethod, "panic", fmt.Sprint(r))
			err = status.Errorf(codes.Internal, "handler panic: %v", r)
		}
	}()
	return handler(srv, ss)
}
