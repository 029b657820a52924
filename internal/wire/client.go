package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/iut62elec/CIMApplication/internal/pool"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultPingTimeout = 2 * time.Second
)

// Config configures a client Factory.
type Config struct {
	Address     string
	DialTimeout time.Duration
	CallTimeout time.Duration
	PoolSize    int
	IdleTTL     time.Duration
	MaxWait     time.Duration
}

// Factory is a connector.Factory over pooled wire connections to a single
// engine host.
type Factory struct {
	cfg  Config
	addr Address
	pool *pool.Pool
}

var _ connector.Factory = (*Factory)(nil)

// NewFactory validates the address and starts the connection pool. No
// connection is opened until the first invocation.
func NewFactory(cfg Config) (*Factory, error) {
	addr, err := ParseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	f := &Factory{cfg: cfg, addr: addr}
	f.pool = pool.New(pool.Config{
		Address: addr.String(),
		MaxSize: cfg.PoolSize,
		IdleTTL: cfg.IdleTTL,
		MaxWait: cfg.MaxWait,
	}, f.dial)
	return f, nil
}

func (f *Factory) dial(ctx context.Context) (pool.Conn, error) {
	conn, err := Dial(ctx, f.addr, f.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	return &engineConn{codec: NewCodec(conn)}, nil
}

func (f *Factory) DefaultSpec() connector.Spec {
	return connector.Spec{Address: f.addr.String(), Timeout: f.cfg.CallTimeout}
}

// Connection checks a connection out of the pool.
func (f *Factory) Connection(ctx context.Context, spec connector.Spec) (connector.Connection, error) {
	if spec.Address != "" && spec.Address != f.addr.String() {
		return nil, fmt.Errorf("factory for %s cannot reach %s", f.addr, spec.Address)
	}
	pc, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &connection{pool: f.pool, pc: pc, timeout: spec.Timeout, reusable: true}, nil
}

// Ping checks that the engine host answers on a pooled connection.
func (f *Factory) Ping(ctx context.Context) error {
	pc, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := pc.Conn.Ping(ctx); err != nil {
		f.pool.Discard(pc)
		return err
	}
	f.pool.Release(pc)
	return nil
}

// Stats reports the pool counters.
func (f *Factory) Stats() pool.Stats { return f.pool.Stats() }

// Close closes idle connections; checked-out ones close on release.
func (f *Factory) Close() error { return f.pool.Close() }

// engineConn is the pooled resource: one stream to the engine host.
type engineConn struct {
	codec *Codec
}

// Ping sends a ping and waits for the pong.
func (c *engineConn) Ping(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultPingTimeout)
	}
	conn := c.codec.Conn()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetDeadline(time.Time{})

	if err := c.codec.Send(engine.PingMessage()); err != nil {
		return err
	}
	msg, err := c.codec.Receive()
	if err != nil {
		return err
	}
	if kind := engine.Kind(msg); kind != engine.KindPong {
		return fmt.Errorf("ping answered with %q", kind)
	}
	return nil
}

func (c *engineConn) Close() error { return c.codec.Close() }

// connection owns one pooled stream for the life of a session. The stream
// goes back to the pool only if the last exchange was read to its end.
type connection struct {
	pool    *pool.Pool
	pc      *pool.PooledConn
	timeout time.Duration

	mu       sync.Mutex
	open     *interaction
	reusable bool
	closed   bool
}

func (c *connection) codec() *Codec { return c.pc.Conn.(*engineConn).codec }

func (c *connection) CreateInteraction(ctx context.Context) (connector.Interaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	if c.open != nil {
		return nil, errors.New("connection already has an open interaction")
	}
	c.open = &interaction{conn: c}
	return c.open, nil
}

func (c *connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection already closed")
	}
	c.closed = true
	reuse := c.reusable && c.open == nil
	c.mu.Unlock()

	if reuse {
		c.pool.Release(c.pc)
	} else {
		c.pool.Discard(c.pc)
	}
	return nil
}

func (c *connection) isReusable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reusable
}

// finished records the end of an exchange.
func (c *connection) finished(ix *interaction, drained bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == ix {
		c.open = nil
	}
	c.reusable = drained
}

type interaction struct {
	conn *connection

	mu       sync.Mutex
	executed bool
	done     bool
}

func (ix *interaction) Execute(ctx context.Context, spec connector.InteractionSpec, env envelope.Envelope) (any, error) {
	ix.mu.Lock()
	if ix.executed {
		ix.mu.Unlock()
		return nil, errors.New("interaction already executed")
	}
	ix.executed = true
	ix.mu.Unlock()

	codec := ix.conn.codec()
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = ix.conn.timeout
	}
	if err := codec.Conn().SetDeadline(callDeadline(ctx, timeout)); err != nil {
		ix.finish(false)
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	start := time.Now()
	finish := func(drained bool) error {
		metrics.RecordTransportLatency("wire", env.Method(), float64(time.Since(start).Microseconds())/1000)
		return ix.finish(drained)
	}

	req := engine.Request{
		Function:  spec.Function,
		RequestID: connector.RequestID(ctx),
		Envelope:  env,
	}
	msg := engine.RequestMessage(req)
	observability.InjectMessage(ctx, msg)
	if err := codec.Send(msg); err != nil {
		finish(false)
		return nil, fmt.Errorf("send request: %w", err)
	}
	return engine.ReadResult(codec.Receive, finish)
}

func (ix *interaction) finish(drained bool) error {
	ix.mu.Lock()
	if ix.done {
		ix.mu.Unlock()
		return nil
	}
	ix.done = true
	ix.mu.Unlock()

	err := ix.conn.codec().Conn().SetDeadline(time.Time{})
	ix.conn.finished(ix, drained && err == nil)
	return nil
}

// Close abandons an exchange that was not read to its end.
func (ix *interaction) Close() error {
	ix.mu.Lock()
	executed, done := ix.executed, ix.done
	ix.done = true
	ix.mu.Unlock()

	switch {
	case !executed:
		ix.conn.finished(ix, ix.conn.isReusable())
	case !done:
		ix.conn.finished(ix, false)
	}
	return nil
}

// callDeadline is the earlier of the context deadline and now+timeout, or
// zero for none.
func callDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}
