// Package mock is an in-memory connector.Factory that records every
// acquisition and release, for tests of the invocation pipeline.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/jackc/pgx/v5/pgtype"
)

// Factory is a scripted engine. The zero value returns an empty table.
type Factory struct {
	Rows []domain.ResultRow

	// Result, when set, is returned by Execute instead of a table.
	Result any

	AcquireErr error
	NilConn    bool
	CreateErr  error
	ExecuteErr error

	// CreatePanic and ExecutePanic, when non-nil, are panicked with by
	// CreateInteraction and Execute.
	CreatePanic  any
	ExecutePanic any

	// Block, when non-nil, holds Execute until it is closed or the call
	// context is done.
	Block chan struct{}

	// FailAt makes the cursor fail when it reaches row FailAt (1-based).
	FailAt    int
	ScanErr   error
	CursorErr error

	CloseConnErr        error
	CloseInteractionErr error
	CloseRowsErr        error

	Acquired            atomic.Int64
	ConnsClosed         atomic.Int64
	InteractionsCreated atomic.Int64
	InteractionsClosed  atomic.Int64
	CursorsOpened       atomic.Int64
	CursorsClosed       atomic.Int64

	mu        sync.Mutex
	envelopes []envelope.Envelope
	functions []string
}

var _ connector.Factory = (*Factory)(nil)

// Row builds a ResultRow from up to thirteen values; a nil entry is a null column.
func Row(values ...*string) domain.ResultRow {
	var row domain.ResultRow
	for i, p := range row.Targets() {
		if i < len(values) && values[i] != nil {
			*p = domain.Text(*values[i])
		}
	}
	return row
}

// FullRow builds a row whose columns are prefix followed by the column name.
func FullRow(prefix string) domain.ResultRow {
	var row domain.ResultRow
	for i, p := range row.Targets() {
		*p = domain.Text(prefix + domain.ColumnNames[i])
	}
	return row
}

func (f *Factory) DefaultSpec() connector.Spec {
	return connector.Spec{Address: "mock"}
}

func (f *Factory) Connection(ctx context.Context, spec connector.Spec) (connector.Connection, error) {
	if f.AcquireErr != nil {
		return nil, f.AcquireErr
	}
	if f.NilConn {
		return nil, nil
	}
	f.Acquired.Add(1)
	return &conn{f: f}, nil
}

// Envelopes returns every envelope executed so far.
func (f *Factory) Envelopes() []envelope.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]envelope.Envelope(nil), f.envelopes...)
}

// Functions returns the interaction function of every execution so far.
func (f *Factory) Functions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.functions...)
}

// Balanced reports whether every acquired resource was released exactly once.
func (f *Factory) Balanced() error {
	if a, c := f.Acquired.Load(), f.ConnsClosed.Load(); a != c {
		return fmt.Errorf("connections: acquired %d, closed %d", a, c)
	}
	if a, c := f.InteractionsCreated.Load(), f.InteractionsClosed.Load(); a != c {
		return fmt.Errorf("interactions: created %d, closed %d", a, c)
	}
	if a, c := f.CursorsOpened.Load(), f.CursorsClosed.Load(); a != c {
		return fmt.Errorf("cursors: opened %d, closed %d", a, c)
	}
	return nil
}

type conn struct {
	f      *Factory
	closed atomic.Bool
}

func (c *conn) CreateInteraction(ctx context.Context) (connector.Interaction, error) {
	if c.f.CreatePanic != nil {
		panic(c.f.CreatePanic)
	}
	if c.f.CreateErr != nil {
		return nil, c.f.CreateErr
	}
	c.f.InteractionsCreated.Add(1)
	return &interaction{f: c.f}, nil
}

func (c *conn) Close() error {
	if c.closed.Swap(true) {
		return errors.New("mock: connection closed twice")
	}
	c.f.ConnsClosed.Add(1)
	return c.f.CloseConnErr
}

type interaction struct {
	f      *Factory
	closed atomic.Bool
}

func (ix *interaction) Execute(ctx context.Context, spec connector.InteractionSpec, env envelope.Envelope) (any, error) {
	ix.f.mu.Lock()
	ix.f.envelopes = append(ix.f.envelopes, env)
	ix.f.functions = append(ix.f.functions, spec.Function)
	ix.f.mu.Unlock()

	if ix.f.ExecutePanic != nil {
		panic(ix.f.ExecutePanic)
	}
	if ix.f.Block != nil {
		select {
		case <-ix.f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ix.f.ExecuteErr != nil {
		return nil, ix.f.ExecuteErr
	}
	if ix.f.Result != nil {
		return ix.f.Result, nil
	}
	ix.f.CursorsOpened.Add(1)
	return &cursor{f: ix.f, pos: -1}, nil
}

func (ix *interaction) Close() error {
	if ix.closed.Swap(true) {
		return errors.New("mock: interaction closed twice")
	}
	ix.f.InteractionsClosed.Add(1)
	return ix.f.CloseInteractionErr
}

type cursor struct {
	f      *Factory
	pos    int
	err    error
	closed atomic.Bool
}

func (c *cursor) Next() bool {
	if c.err != nil || c.closed.Load() {
		return false
	}
	c.pos++
	if c.f.FailAt > 0 && c.pos+1 == c.f.FailAt {
		c.err = c.f.CursorErr
		if c.err == nil {
			c.err = fmt.Errorf("mock: cursor failed at row %d", c.f.FailAt)
		}
		return false
	}
	return c.pos < len(c.f.Rows)
}

func (c *cursor) Scan(dest ...any) error {
	if c.f.ScanErr != nil {
		return c.f.ScanErr
	}
	if c.pos < 0 || c.pos >= len(c.f.Rows) {
		return errors.New("mock: no current row")
	}
	row := c.f.Rows[c.pos]
	cols := row.Columns()
	if len(dest) != len(cols) {
		return fmt.Errorf("mock: scan expects %d targets, got %d", len(cols), len(dest))
	}
	for i, d := range dest {
		t, ok := d.(*pgtype.Text)
		if !ok {
			return fmt.Errorf("mock: unsupported scan target %T", d)
		}
		*t = cols[i]
	}
	return nil
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	if c.closed.Swap(true) {
		return errors.New("mock: cursor closed twice")
	}
	c.f.CursorsClosed.Add(1)
	return c.f.CloseRowsErr
}
