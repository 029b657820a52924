// Package connector defines the contract between the invocation core and an
// execution engine, and the session that drives one invocation through it.
package connector

import (
	"context"
	"time"

	"github.com/iut62elec/CIMApplication/internal/envelope"
)

// Spec selects the engine a connection is opened against.
type Spec struct {
	Address string
	Timeout time.Duration
}

// InteractionSpec names the engine-side function an interaction calls.
type InteractionSpec struct {
	Function string
	Timeout  time.Duration
}

// Factory hands out connections to an execution engine. Implementations must
// be safe for concurrent use; each returned Connection is exclusive to the
// caller.
type Factory interface {
	DefaultSpec() Spec
	Connection(ctx context.Context, spec Spec) (Connection, error)
}

// Connection is one exclusive channel to the engine.
type Connection interface {
	CreateInteraction(ctx context.Context) (Interaction, error)
	Close() error
}

// Interaction runs exactly one request. Execute returns either a ResultSet
// or some other value; only ResultSet is a tabular result.
type Interaction interface {
	Execute(ctx context.Context, spec InteractionSpec, env envelope.Envelope) (any, error)
	Close() error
}

// ResultSet is a forward-only cursor. Scan copies the current row into dest,
// which are *pgtype.Text values in column order.
type ResultSet interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}
