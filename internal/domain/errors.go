package domain

import (
	"errors"
	"fmt"
)

// Kind is the failure category of an invocation.
type Kind string

const (
	// InvalidRequest means the envelope inputs were malformed.
	InvalidRequest Kind = "InvalidRequest"
	// ConnectionUnavailable means no usable connection could be acquired.
	ConnectionUnavailable Kind = "ConnectionUnavailable"
	// InteractionFailed means the remote call failed or returned a non-tabular result.
	InteractionFailed Kind = "InteractionFailed"
	// RowReadFailed means the cursor failed while rows were being read.
	RowReadFailed Kind = "RowReadFailed"
	// CloseFailed means releasing a cursor, interaction or connection failed.
	CloseFailed Kind = "CloseFailed"
)

// Error carries a Kind, the step that failed, and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns a *Error of the given kind. A nil err still yields an error,
// since the kind alone describes the failure.
func Wrap(kind Kind, op string, err error) *Error { return &Error{Kind: kind, Op: op, Err: err} }

// Errorf builds a *Error whose cause is formatted from the arguments.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
