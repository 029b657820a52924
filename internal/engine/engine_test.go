package engine

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/types/known/structpb"
)

func text(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func nearestRequest(t *testing.T) Request {
	t.Helper()
	env, err := envelope.Build("nearest", "ops", "", "/data/a", map[string]string{"n": "2"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return Request{Function: domain.ExecuteMethod, RequestID: "req-1", Envelope: env}
}

// pipe collects messages sent by Serve and replays them to a reader.
type pipe struct {
	msgs []*structpb.Struct
	pos  int
}

func (p *pipe) send(m *structpb.Struct) error {
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *pipe) recv() (*structpb.Struct, error) {
	if p.pos >= len(p.msgs) {
		return nil, io.EOF
	}
	m := p.msgs[p.pos]
	p.pos++
	return m, nil
}

func TestRequestMessageRoundTrip(t *testing.T) {
	req := nearestRequest(t)

	got, err := ParseRequest(RequestMessage(req))
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}
	if got.Function != req.Function || got.RequestID != "req-1" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.Envelope.String() != req.Envelope.String() {
		t.Fatalf("envelope mismatch: %s", got.Envelope)
	}
}

func TestParseRequest_Errors(t *testing.T) {
	if _, err := ParseRequest(&structpb.Struct{}); err == nil {
		t.Fatal("expected error for missing function")
	}
	noInput := RequestMessage(Request{Function: domain.ExecuteMethod})
	if _, err := ParseRequest(noInput); err == nil {
		t.Fatal("expected error for missing input")
	}
	if req, err := ParseRequest(PingMessage()); err != nil || req.Function != FunctionPing {
		t.Fatalf("ping should parse: %+v %v", req, err)
	}
}

func TestServe_TableRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ops", "nearest", HandlerFunc(func(ctx context.Context, env envelope.Envelope) (Result, error) {
		return StaticTable([]string{"name", "aliasName"}, [][]pgtype.Text{
			{text("EC1"), {}},
			{text("EC2"), text("consumer 2")},
		}), nil
	}))

	p := &pipe{}
	if err := reg.Serve(context.Background(), "test", RequestMessage(nearestRequest(t)), p.send); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}

	var drained bool
	res, err := ReadResult(p.recv, func(d bool) error {
		drained = d
		return nil
	})
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	rs := res.(*StreamResultSet)

	var names []string
	for rs.Next() {
		var name, alias pgtype.Text
		if err := rs.Scan(&name, &alias); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		names = append(names, name.String)
		if name.String == "EC1" && alias.Valid {
			t.Fatal("null column should stay null")
		}
	}
	if err := rs.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	rs.Close()
	if len(names) != 2 || names[1] != "EC2" {
		t.Fatalf("unexpected rows: %v", names)
	}
	if !drained {
		t.Fatal("a fully read table should be finished as drained")
	}
}

func TestServe_UnknownOperation(t *testing.T) {
	p := &pipe{}
	NewRegistry().Serve(context.Background(), "test", RequestMessage(nearestRequest(t)), p.send)

	_, err := ReadResult(p.recv, func(bool) error { return nil })
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
}

func TestServe_Value(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterClass("ops", HandlerFunc(func(ctx context.Context, env envelope.Envelope) (Result, error) {
		return Value{V: "done"}, nil
	}))

	p := &pipe{}
	reg.Serve(context.Background(), "test", RequestMessage(nearestRequest(t)), p.send)

	res, err := ReadResult(p.recv, func(bool) error { return nil })
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	if v, ok := res.(Value); !ok || v.V != "done" {
		t.Fatalf("expected Value{done}, got %#v", res)
	}
}

type failingCursor struct{ n int }

func (c *failingCursor) Next() bool {
	c.n++
	return true
}

func (c *failingCursor) Values() ([]pgtype.Text, error) {
	if c.n > 1 {
		return nil, errors.New("disk read error")
	}
	return []pgtype.Text{text("EC1")}, nil
}

func (c *failingCursor) Err() error   { return nil }
func (c *failingCursor) Close() error { return nil }

func TestServe_MidStreamError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("ops", "nearest", HandlerFunc(func(ctx context.Context, env envelope.Envelope) (Result, error) {
		return Table{Columns: []string{"name"}, Cursor: &failingCursor{}}, nil
	}))

	p := &pipe{}
	reg.Serve(context.Background(), "test", RequestMessage(nearestRequest(t)), p.send)

	res, err := ReadResult(p.recv, func(bool) error { return nil })
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	rs := res.(*StreamResultSet)
	rows := 0
	for rs.Next() {
		rows++
	}
	var remote *RemoteError
	if rows != 1 || !errors.As(rs.Err(), &remote) {
		t.Fatalf("expected one row then a remote error, got %d rows, err %v", rows, rs.Err())
	}
}

func TestServe_Ping(t *testing.T) {
	p := &pipe{}
	if err := NewRegistry().Serve(context.Background(), "test", PingMessage(), p.send); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if len(p.msgs) != 1 || Kind(p.msgs[0]) != KindPong {
		t.Fatalf("expected a pong, got %v", p.msgs)
	}
}

func TestDispatch_UnknownFunction(t *testing.T) {
	req := nearestRequest(t)
	req.Function = "read"
	if _, err := NewRegistry().Dispatch(context.Background(), req); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestStreamResultSet_CloseBeforeDrain(t *testing.T) {
	p := &pipe{msgs: []*structpb.Struct{TableHeader([]string{"name"}), RowMessage([]pgtype.Text{text("a")})}}
	var calls int
	var drained bool
	res, err := ReadResult(p.recv, func(d bool) error {
		calls++
		drained = d
		return nil
	})
	if err != nil {
		t.Fatalf("ReadResult failed: %v", err)
	}
	rs := res.(*StreamResultSet)
	rs.Next()
	rs.Close()
	rs.Close()

	if calls != 1 || drained {
		t.Fatalf("finish called %d times, drained=%v", calls, drained)
	}
}

func TestRegistry_Operations(t *testing.T) {
	reg := NewRegistry()
	h := HandlerFunc(func(context.Context, envelope.Envelope) (Result, error) { return Value{}, nil })
	reg.Register("b", "nearest", h)
	reg.RegisterClass("a", h)

	ops := reg.Operations()
	if len(ops) != 2 || ops[0] != "a#*" || ops[1] != "b#nearest" {
		t.Fatalf("Operations() = %v", ops)
	}
	if _, ok := reg.Lookup("a", "anything"); !ok {
		t.Fatal("class handler should match any method")
	}
}
