package connector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/connector/mock"
	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
)

func testEnvelope(t *testing.T) envelope.Envelope {
	t.Helper()
	env, err := envelope.Build("nearest", "ch.ninecode.sp.SpatialOperations", "", "/data/a", map[string]string{"n": "5"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return env
}

func countRows(rs connector.ResultSet) error {
	for rs.Next() {
		var row domain.ResultRow
		if err := rs.Scan(row.ScanTargets()...); err != nil {
			return err
		}
	}
	return rs.Err()
}

func TestSession_Do_Success(t *testing.T) {
	f := &mock.Factory{Rows: []domain.ResultRow{mock.FullRow("a."), mock.FullRow("b.")}}
	s := connector.NewSession(f, "")

	var seen int
	err := s.Do(context.Background(), testEnvelope(t), func(rs connector.ResultSet) error {
		for rs.Next() {
			seen++
		}
		return rs.Err()
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected 2 rows, got %d", seen)
	}
	if err := f.Balanced(); err != nil {
		t.Fatal(err)
	}
	if fns := f.Functions(); len(fns) != 1 || fns[0] != domain.ExecuteMethod {
		t.Fatalf("unexpected interaction functions: %v", fns)
	}
}

func TestSession_FailurePaths(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		factory *mock.Factory
		kind    domain.Kind
	}{
		{"acquire error", &mock.Factory{AcquireErr: boom}, domain.ConnectionUnavailable},
		{"nil connection", &mock.Factory{NilConn: true}, domain.ConnectionUnavailable},
		{"create interaction error", &mock.Factory{CreateErr: boom}, domain.InteractionFailed},
		{"execute error", &mock.Factory{ExecuteErr: boom}, domain.InteractionFailed},
		{"non-tabular result", &mock.Factory{Result: 42}, domain.InteractionFailed},
		{"cursor error", &mock.Factory{Rows: []domain.ResultRow{mock.FullRow("")}, FailAt: 1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connector.NewSession(tt.factory, "")
			err := s.Do(context.Background(), testEnvelope(t), countRows)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.kind != "" {
				if k, _ := domain.KindOf(connector.Errors(err)[0]); k != tt.kind {
					t.Fatalf("primary kind = %q, want %q (err: %v)", k, tt.kind, err)
				}
			}
			if err := tt.factory.Balanced(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSession_CloseFailedDoesNotMaskPrimary(t *testing.T) {
	f := &mock.Factory{
		ExecuteErr:          errors.New("engine down"),
		CloseInteractionErr: errors.New("interaction stuck"),
		CloseConnErr:        errors.New("socket reset"),
	}
	err := connector.NewSession(f, "").Do(context.Background(), testEnvelope(t), countRows)

	parts := connector.Errors(err)
	if len(parts) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(parts), err)
	}
	if !domain.IsKind(parts[0], domain.InteractionFailed) {
		t.Fatalf("primary error should come first, got %v", parts[0])
	}
	for _, p := range parts[1:] {
		if !domain.IsKind(p, domain.CloseFailed) {
			t.Fatalf("expected CloseFailed, got %v", p)
		}
	}
	if f.InteractionsClosed.Load() != 1 || f.ConnsClosed.Load() != 1 {
		t.Fatal("each resource must be released exactly once")
	}
}

func TestSession_CloseFailedOnSuccess(t *testing.T) {
	f := &mock.Factory{
		Rows:         []domain.ResultRow{mock.FullRow("")},
		CloseRowsErr: errors.New("cursor leak"),
	}
	err := connector.NewSession(f, "").Do(context.Background(), testEnvelope(t), countRows)

	parts := connector.Errors(err)
	if len(parts) != 1 || !domain.IsKind(parts[0], domain.CloseFailed) {
		t.Fatalf("expected a single CloseFailed, got %v", err)
	}
	if err := f.Balanced(); err != nil {
		t.Fatal(err)
	}
}

func TestSession_ExecuteReleaseIsIdempotent(t *testing.T) {
	f := &mock.Factory{}
	rs, release, err := connector.NewSession(f, "").Execute(context.Background(), testEnvelope(t))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := rs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	if f.ConnsClosed.Load() != 1 || f.InteractionsClosed.Load() != 1 {
		t.Fatal("release must close each resource once")
	}
}

func TestSession_ConcurrentInvocations(t *testing.T) {
	f := &mock.Factory{Rows: []domain.ResultRow{mock.FullRow("")}}
	s := connector.NewSession(f, "")

	env := testEnvelope(t)
	const n = 16
	errs := make(chan error, n)
	for range n {
		go func() {
			errs <- s.Do(context.Background(), env, countRows)
		}()
	}
	for range n {
		if err := <-errs; err != nil {
			t.Fatalf("Do failed: %v", err)
		}
	}
	if got := f.Acquired.Load(); got != n {
		t.Fatalf("acquired %d connections, want %d", got, n)
	}
	if err := f.Balanced(); err != nil {
		t.Fatal(err)
	}
}

func TestSession_ReleasesOnPanic(t *testing.T) {
	tests := []struct {
		name    string
		factory *mock.Factory
		fn      func(connector.ResultSet) error
	}{
		{"create interaction", &mock.Factory{CreatePanic: "engine crashed"}, countRows},
		{"execute", &mock.Factory{ExecutePanic: "engine crashed"}, countRows},
		{"consumer", &mock.Factory{Rows: []domain.ResultRow{mock.FullRow("")}}, func(connector.ResultSet) error {
			panic("consumer crashed")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := connector.NewSession(tt.factory, "")
			func() {
				defer func() {
					if recover() == nil {
						t.Error("expected the panic to propagate")
					}
				}()
				_ = s.Do(context.Background(), testEnvelope(t), tt.fn)
			}()

			if got := tt.factory.Acquired.Load(); got != 1 {
				t.Fatalf("acquired %d connections, want 1", got)
			}
			if err := tt.factory.Balanced(); err != nil {
				t.Fatal(err)
			}
		})
	}
}
