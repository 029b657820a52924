package pgengine

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"

	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler serves engine requests from SQL functions, for use in an engine
// host registry.
type Handler struct {
	pool   *pgxpool.Pool
	schema string
}

// NewHandler returns a handler calling functions in schema.
func NewHandler(pool *pgxpool.Pool, schema string) *Handler {
	if schema == "" {
		schema = DefaultSchema
	}
	return &Handler{pool: pool, schema: schema}
}

func (h *Handler) Handle(ctx context.Context, env envelope.Envelope) (engine.Result, error) {
	rows, err := h.pool.Query(ctx, Query(h.schema, env.Method()), env.Map())
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", h.schema, env.Method(), err)
	}
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}
	return engine.Table{Columns: columns, Cursor: &rowsCursor{rows: rows}}, nil
}

type rowsCursor struct {
	rows pgx.Rows
}

func (c *rowsCursor) Next() bool { return c.rows.Next() }
func (c *rowsCursor) Err() error { return c.rows.Err() }

func (c *rowsCursor) Values() ([]pgtype.Text, error) {
	vals, err := c.rows.Values()
	if err != nil {
		return nil, err
	}
	out := make([]pgtype.Text, len(vals))
	for i, v := range vals {
		out[i] = textValue(v)
	}
	return out, nil
}

func (c *rowsCursor) Close() error {
	c.rows.Close()
	return nil
}

// textValue renders a decoded column value as text; SQL NULL stays null.
func textValue(v any) pgtype.Text {
	switch t := v.(type) {
	case nil:
		return pgtype.Text{}
	case string:
		return pgtype.Text{String: t, Valid: true}
	case []byte:
		return pgtype.Text{String: string(t), Valid: true}
	case float64:
		return pgtype.Text{String: strconv.FormatFloat(t, 'f', -1, 64), Valid: true}
	case float32:
		return pgtype.Text{String: strconv.FormatFloat(float64(t), 'f', -1, 32), Valid: true}
	case time.Time:
		return pgtype.Text{String: t.Format(time.RFC3339Nano), Valid: true}
	case driver.Valuer:
		dv, err := t.Value()
		if err != nil || dv == nil {
			return pgtype.Text{}
		}
		return textValue(dv)
	case fmt.Stringer:
		return pgtype.Text{String: t.String(), Valid: true}
	default:
		return pgtype.Text{String: fmt.Sprint(t), Valid: true}
	}
}
