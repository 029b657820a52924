package pgengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Factory is a connector.Factory over a pgx pool: a connection is a pooled
// database connection and a result set is the function's row stream.
type Factory struct {
	cfg  Config
	pool *pgxpool.Pool
}

var _ connector.Factory = (*Factory)(nil)

// NewFactory opens the pool.
func NewFactory(ctx context.Context, cfg Config) (*Factory, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, pool: pool}, nil
}

// NewFactoryWithPool uses an existing pool.
func NewFactoryWithPool(pool *pgxpool.Pool, cfg Config) *Factory {
	return &Factory{cfg: cfg, pool: pool}
}

func (f *Factory) DefaultSpec() connector.Spec {
	return connector.Spec{Address: "postgres", Timeout: f.cfg.CallTimeout}
}

func (f *Factory) Connection(ctx context.Context, spec connector.Spec) (connector.Connection, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &connection{conn: conn, schema: f.cfg.schema(), timeout: spec.Timeout}, nil
}

// Ping checks the database.
func (f *Factory) Ping(ctx context.Context) error { return f.pool.Ping(ctx) }

// Close closes the pool.
func (f *Factory) Close() error {
	f.pool.Close()
	return nil
}

type connection struct {
	conn    *pgxpool.Conn
	schema  string
	timeout time.Duration

	once sync.Once
}

func (c *connection) CreateInteraction(ctx context.Context) (connector.Interaction, error) {
	return &interaction{conn: c.conn.Conn(), schema: c.schema, timeout: c.timeout}, nil
}

func (c *connection) Close() error {
	released := false
	c.once.Do(func() {
		c.conn.Release()
		released = true
	})
	if !released {
		return errors.New("connection already released")
	}
	return nil
}

type interaction struct {
	conn    *pgx.Conn
	schema  string
	timeout time.Duration
}

func (ix *interaction) Execute(ctx context.Context, spec connector.InteractionSpec, env envelope.Envelope) (any, error) {
	if spec.Function != domain.ExecuteMethod {
		return nil, fmt.Errorf("unsupported interaction function %q", spec.Function)
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = ix.timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	start := time.Now()
	rows, err := ix.conn.Query(ctx, Query(ix.schema, env.Method()), env.Map())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("call %s.%s: %w", ix.schema, env.Method(), err)
	}
	return &resultSet{rows: rows, done: func() {
		cancel()
		metrics.RecordTransportLatency("postgres", env.Method(), float64(time.Since(start).Microseconds())/1000)
	}}, nil
}

func (ix *interaction) Close() error { return nil }

// resultSet adapts pgx.Rows. Columns scan into *pgtype.Text targets.
type resultSet struct {
	rows pgx.Rows
	done func()
	once sync.Once
}

func (rs *resultSet) Next() bool             { return rs.rows.Next() }
func (rs *resultSet) Scan(dest ...any) error { return rs.rows.Scan(dest...) }
func (rs *resultSet) Err() error             { return rs.rows.Err() }

func (rs *resultSet) Close() error {
	rs.once.Do(func() {
		rs.rows.Close()
		rs.done()
	})
	return nil
}
