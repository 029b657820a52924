package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
)

// Session runs single invocations against a shared Factory. It holds no
// per-call state and is safe for concurrent use.
type Session struct {
	factory  Factory
	function string
}

// NewSession returns a Session that calls function on every interaction.
// An empty function selects domain.ExecuteMethod.
func NewSession(factory Factory, function string) *Session {
	if function == "" {
		function = domain.ExecuteMethod
	}
	return &Session{factory: factory, function: function}
}

// Execute acquires a connection, creates one interaction and runs env
// through it. On success the caller owns the ResultSet and must call release
// once it is done with it; release closes the interaction and then the
// connection. On any other exit, a panic included, everything acquired so far
// is released before Execute returns and release failures are joined after
// the primary error.
func (s *Session) Execute(ctx context.Context, env envelope.Envelope) (rs ResultSet, release func() error, err error) {
	spec := s.factory.DefaultSpec()
	conn, err := s.factory.Connection(ctx, spec)
	if err != nil {
		return nil, nil, domain.Wrap(domain.ConnectionUnavailable, "acquire connection", err)
	}
	if conn == nil {
		return nil, nil, domain.Errorf(domain.ConnectionUnavailable, "acquire connection", "factory returned no connection for %q", spec.Address)
	}

	// Steps run front to back, so later resources are pushed to the front.
	steps := []closeStep{{"close connection", conn}}
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		if cerr := closeAll(steps); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ix, err := conn.CreateInteraction(ctx)
	if err != nil {
		return nil, nil, domain.Wrap(domain.InteractionFailed, "create interaction", err)
	}
	if ix == nil {
		return nil, nil, domain.Errorf(domain.InteractionFailed, "create interaction", "connection returned no interaction")
	}
	steps = append([]closeStep{{"close interaction", ix}}, steps...)

	result, err := ix.Execute(ctx, InteractionSpec{Function: s.function, Timeout: spec.Timeout}, env)
	if err != nil {
		return nil, nil, domain.Wrap(domain.InteractionFailed, "execute "+env.Method(), err)
	}

	rs, ok := result.(ResultSet)
	if !ok {
		if c, isCloser := result.(io.Closer); isCloser {
			steps = append([]closeStep{{"close result", c}}, steps...)
		}
		return nil, nil, domain.Errorf(domain.InteractionFailed, "execute "+env.Method(), "engine returned a non-tabular result of type %T", result)
	}
	handedOff = true
	return rs, releaseOnce(steps), nil
}

// Do runs env and hands the ResultSet to fn. The cursor, the interaction
// and the connection are closed in that order on every path, each exactly
// once. The primary error, if any, comes first in the returned error;
// CloseFailed errors are joined after it.
func (s *Session) Do(ctx context.Context, env envelope.Envelope, fn func(ResultSet) error) (err error) {
	rs, release, err := s.Execute(ctx, env)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, release())
	}()
	defer func() {
		if cerr := rs.Close(); cerr != nil {
			err = errors.Join(err, domain.Wrap(domain.CloseFailed, "close result set", cerr))
		}
	}()

	return fn(rs)
}

type closeStep struct {
	op string
	c  io.Closer
}

func closeAll(steps []closeStep) error {
	var errs []error
	for _, s := range steps {
		if err := s.c.Close(); err != nil {
			errs = append(errs, domain.Wrap(domain.CloseFailed, s.op, err))
		}
	}
	return errors.Join(errs...)
}

func releaseOnce(steps []closeStep) func() error {
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() { err = closeAll(steps) })
		return err
	}
}

// Errors flattens a possibly joined error into its parts, primary first.
func Errors(err error) []error {
	if err == nil {
		return nil
	}
	var out []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	return []error{err}
}

// Describe returns a short label for an error chain, for logs.
func Describe(err error) string {
	if k, ok := domain.KindOf(err); ok {
		return string(k)
	}
	return fmt.Sprintf("%T", err)
}
