package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/types/known/structpb"
)

// RemoteError is a failure reported by the engine host.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "engine: " + e.Message }

// ReceiveFunc reads the next response message.
type ReceiveFunc func() (*structpb.Struct, error)

// FinishFunc ends the exchange. drained is true when the response was read
// to its last message, so the underlying stream may be reused.
type FinishFunc func(drained bool) error

// ReadResult reads a response header. A table yields a ResultSet that
// streams the remaining messages and calls finish when closed; a value
// yields Value and an error message yields *RemoteError, both after finish
// has been called.
func ReadResult(recv ReceiveFunc, finish FinishFunc) (any, error) {
	msg, err := recv()
	if err != nil {
		finish(false)
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch kind := Kind(msg); kind {
	case KindTable:
		return &StreamResultSet{columns: Columns(msg), recv: recv, finish: finish}, nil
	case KindValue:
		return Value{V: ValueOf(msg)}, finish(true)
	case KindError:
		return nil, errors.Join(&RemoteError{Message: ErrorText(msg)}, finish(true))
	default:
		finish(false)
		return nil, fmt.Errorf("unexpected response kind %q", kind)
	}
}

// StreamResultSet is a connector.ResultSet over a streamed table.
type StreamResultSet struct {
	columns []string
	recv    ReceiveFunc
	finish  FinishFunc

	current []pgtype.Text
	done    bool
	drained bool
	err     error

	closeOnce sync.Once
	closeErr  error
}

var _ connector.ResultSet = (*StreamResultSet)(nil)

// Columns returns the column names announced by the engine.
func (rs *StreamResultSet) Columns() []string { return rs.columns }

func (rs *StreamResultSet) Next() bool {
	if rs.done {
		return false
	}
	msg, err := rs.recv()
	if err != nil {
		rs.fail(fmt.Errorf("read row: %w", err))
		return false
	}
	if vals, ok := RowValues(msg); ok {
		rs.current = vals
		return true
	}

	switch kind := Kind(msg); kind {
	case KindEnd:
		rs.done, rs.drained = true, true
	case KindError:
		// The host ends the exchange after an error message.
		rs.drained = true
		rs.fail(&RemoteError{Message: ErrorText(msg)})
	default:
		rs.fail(fmt.Errorf("unexpected message kind %q in table", kind))
	}
	rs.current = nil
	return false
}

func (rs *StreamResultSet) fail(err error) {
	rs.done = true
	rs.err = err
	rs.current = nil
}

// Scan copies the current row into dest, which must be *pgtype.Text or
// *string values, one per column.
func (rs *StreamResultSet) Scan(dest ...any) error {
	if rs.current == nil {
		return errors.New("scan called without a current row")
	}
	if len(dest) != len(rs.current) {
		return fmt.Errorf("row has %d columns, scan expects %d", len(rs.current), len(dest))
	}
	for i, d := range dest {
		switch t := d.(type) {
		case *pgtype.Text:
			*t = rs.current[i]
		case *string:
			*t = rs.current[i].String
		default:
			return fmt.Errorf("unsupported scan target %T for column %d", d, i)
		}
	}
	return nil
}

func (rs *StreamResultSet) Err() error { return rs.err }

// Close ends the exchange exactly once.
func (rs *StreamResultSet) Close() error {
	rs.closeOnce.Do(func() {
		rs.done = true
		rs.closeErr = rs.finish(rs.drained)
	})
	return rs.closeErr
}
