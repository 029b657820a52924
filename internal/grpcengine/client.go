package grpcengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Config configures a client Factory.
type Config struct {
	Address     string
	CallTimeout time.Duration
}

// Factory is a connector.Factory over one multiplexed gRPC channel. Each
// interaction is its own stream.
type Factory struct {
	cfg  Config
	conn *grpc.ClientConn
}

var _ connector.Factory = (*Factory)(nil)

// NewFactory creates the channel. It connects lazily.
func NewFactory(cfg Config, opts ...grpc.DialOption) (*Factory, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to engine gRPC %s: %w", cfg.Address, err)
	}
	return &Factory{cfg: cfg, conn: conn}, nil
}

func (f *Factory) DefaultSpec() connector.Spec {
	return connector.Spec{Address: f.cfg.Address, Timeout: f.cfg.CallTimeout}
}

func (f *Factory) Connection(ctx context.Context, spec connector.Spec) (connector.Connection, error) {
	if spec.Address != "" && spec.Address != f.cfg.Address {
		return nil, fmt.Errorf("factory for %s cannot reach %s", f.cfg.Address, spec.Address)
	}
	return &connection{cc: f.conn, timeout: spec.Timeout}, nil
}

// Ping runs the ping function on a fresh stream.
func (f *Factory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := f.conn.NewStream(ctx, &executeStream, ExecuteMethod)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(engine.PingMessage()); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		return err
	}
	if kind := engine.Kind(msg); kind != engine.KindPong {
		return fmt.Errorf("ping answered with %q", kind)
	}
	return nil
}

// Close closes the channel.
func (f *Factory) Close() error { return f.conn.Close() }

type connection struct {
	cc      *grpc.ClientConn
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *connection) CreateInteraction(ctx context.Context) (connector.Interaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	return &interaction{cc: c.cc, timeout: c.timeout}, nil
}

// Close releases the session's hold; the shared channel stays open.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection already closed")
	}
	c.closed = true
	return nil
}

type interaction struct {
	cc      *grpc.ClientConn
	timeout time.Duration

	mu       sync.Mutex
	executed bool
	cancel   context.CancelFunc
}

func (ix *interaction) Execute(ctx context.Context, spec connector.InteractionSpec, env envelope.Envelope) (any, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = ix.timeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	ix.mu.Lock()
	if ix.executed {
		ix.mu.Unlock()
		cancel()
		return nil, errors.New("interaction already executed")
	}
	ix.executed = true
	ix.cancel = cancel
	ix.mu.Unlock()

	start := time.Now()
	finish := func(bool) error {
		cancel()
		metrics.RecordTransportLatency("grpc", env.Method(), float64(time.Since(start).Microseconds())/1000)
		return nil
	}

	stream, err := ix.cc.NewStream(ctx, &executeStream, ExecuteMethod)
	if err != nil {
		finish(false)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	req := engine.Request{
		Function:  spec.Function,
		RequestID: connector.RequestID(ctx),
		Envelope:  env,
	}
	msg := engine.RequestMessage(req)
	observability.InjectMessage(ctx, msg)
	if err := stream.SendMsg(msg); err != nil {
		finish(false)
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		finish(false)
		return nil, fmt.Errorf("close send: %w", err)
	}

	recv := func() (*structpb.Struct, error) {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return msg, nil
	}
	return engine.ReadResult(recv, finish)
}

// Close cancels a stream that is still open.
func (ix *interaction) Close() error {
	ix.mu.Lock()
	cancel := ix.cancel
	ix.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
