// Package engine implements the execution engine side of the invocation
// protocol: a registry of operation handlers keyed by class and method, the
// message set shared by the wire and gRPC transports, and the client-side
// decoding of streamed results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/jackc/pgx/v5/pgtype"
)

var (
	// ErrUnknownOperation is returned when no handler matches class and method.
	ErrUnknownOperation = errors.New("engine: unknown operation")
	// ErrUnknownFunction is returned for interaction functions other than execute_method.
	ErrUnknownFunction = errors.New("engine: unknown interaction function")
)

// Result is what a handler produces: a Table or a Value.
type Result interface {
	isResult()
}

// Value is a non-tabular result.
type Value struct {
	V any
}

func (Value) isResult() {}

// Cursor streams the rows of a Table.
type Cursor interface {
	Next() bool
	Values() ([]pgtype.Text, error)
	Err() error
	Close() error
}

// Table is a tabular result.
type Table struct {
	Columns []string
	Cursor  Cursor
}

func (Table) isResult() {}

// Handler runs one operation.
type Handler interface {
	Handle(ctx context.Context, env envelope.Envelope) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env envelope.Envelope) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, env envelope.Envelope) (Result, error) {
	return f(ctx, env)
}

const anyMethod = "*"

// Registry dispatches requests to handlers by class and method.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func handlerKey(class, method string) string { return class + "#" + method }

// Register binds a handler to class and method, replacing any previous one.
func (r *Registry) Register(class, method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handlerKey(class, method)] = h
}

// RegisterClass binds h to every method of class that has no handler of its own.
func (r *Registry) RegisterClass(class string, h Handler) {
	r.Register(class, anyMethod, h)
}

// Lookup returns the handler for class and method.
func (r *Registry) Lookup(class, method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[handlerKey(class, method)]; ok {
		return h, true
	}
	h, ok := r.handlers[handlerKey(class, anyMethod)]
	return h, ok
}

// Operations lists the registered class#method keys in sorted order.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs req on its handler.
func (r *Registry) Dispatch(ctx context.Context, req Request) (Result, error) {
	if req.Function != domain.ExecuteMethod {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, req.Function)
	}
	env := req.Envelope
	h, ok := r.Lookup(env.Class(), env.Method())
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOperation, env.Class(), env.Method())
	}
	res, err := h.Handle(ctx, env)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("engine: %s.%s returned no result", env.Class(), env.Method())
	}
	return res, nil
}

// StaticTable returns a Table over rows held in memory.
func StaticTable(columns []string, rows [][]pgtype.Text) Table {
	return Table{Columns: columns, Cursor: &sliceCursor{rows: rows, pos: -1}}
}

type sliceCursor struct {
	rows [][]pgtype.Text
	pos  int
}

func (c *sliceCursor) Next() bool {
	c.pos++
	return c.pos < len(c.rows)
}

func (c *sliceCursor) Values() ([]pgtype.Text, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, errors.New("engine: no current row")
	}
	return c.rows[c.pos], nil
}

func (c *sliceCursor) Err() error   { return nil }
func (c *sliceCursor) Close() error { return nil }
