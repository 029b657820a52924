package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/spatial"
	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestCodecRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want, err := structpb.NewStruct(map[string]any{"kind": "table", "columns": []any{"name", "aliasName"}})
	if err != nil {
		t.Fatalf("NewStruct failed: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- NewCodec(client).Send(want) }()

	got, err := NewCodec(server).Receive()
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if engine.Kind(got) != "table" || len(engine.Columns(got)) != 2 {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestCodecRejectsOversizedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], MaxMessageBytes+1)
		client.Write(hdr[:])
	}()

	_, err := NewCodec(server).Receive()
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}

type rwConn struct {
	net.Conn
	r *bytes.Reader
}

func (c rwConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func TestCodecTruncatedFrame(t *testing.T) {
	frame := []byte{0, 0, 0, 10, 1, 2, 3}
	_, err := NewCodec(rwConn{r: bytes.NewReader(frame)}).Receive()
	if err == nil || !strings.Contains(err.Error(), "unexpected EOF") {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{in: "127.0.0.1:7070", want: Address{Network: "tcp", Addr: "127.0.0.1:7070"}},
		{in: "tcp://engine:7070", want: Address{Network: "tcp", Addr: "engine:7070"}},
		{in: "unix:///run/cim/engine.sock", want: Address{Network: "unix", Addr: "/run/cim/engine.sock"}},
		{in: "vsock://3:9999", want: Address{Network: "vsock", CID: 3, Port: 9999}},
		{in: "vsock://3", wantErr: true},
		{in: "vsock://x:1", wantErr: true},
		{in: "unix://", wantErr: true},
		{in: "udp://host:1", wantErr: true},
		{in: "engine", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}

	if s := (Address{Network: "vsock", CID: 3, Port: 9999}).String(); s != "vsock://3:9999" {
		t.Fatalf("String() = %q", s)
	}
}

func row(prefix string) []pgtype.Text {
	out := make([]pgtype.Text, domain.ColumnCount)
	for i, name := range domain.ColumnNames {
		out[i] = pgtype.Text{String: prefix + name, Valid: true}
	}
	return out
}

// startEngine serves registry on a loopback listener.
func startEngine(t *testing.T, registry *engine.Registry) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listener unavailable: %v", err)
	}
	srv := NewServer(registry)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background(), ln) }()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return ln.Addr().String()
}

func newFactory(t *testing.T, addr string) *Factory {
	t.Helper()
	f, err := NewFactory(Config{Address: addr, CallTimeout: 5 * time.Second, PoolSize: 2})
	if err != nil {
		t.Fatalf("NewFactory failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestEndToEnd_NearestOverWire(t *testing.T) {
	registry := engine.NewRegistry()
	var seen envelope.Envelope
	registry.Register(spatial.DefaultClass, "nearest", engine.HandlerFunc(func(ctx context.Context, env envelope.Envelope) (engine.Result, error) {
		seen = env
		return engine.StaticTable(domain.ColumnNames[:], [][]pgtype.Text{row("a."), row("b.")}), nil
	}))

	f := newFactory(t, startEngine(t, registry))
	svc := spatial.NewService(f, spatial.Options{Logger: &logging.Logger{}, Metrics: metrics.New()})

	q := spatial.Query{Method: "nearest", Files: []string{"/data/net.rdf"}}
	for i := range 3 {
		res := svc.Invoke(context.Background(), q)
		if res.Err != nil {
			t.Fatalf("invocation %d failed: %v\n%s", i, res.Err, res.Text)
		}
		if res.Rows != 2 || !strings.HasPrefix(res.Text, `[{ name: "a.name",`) {
			t.Fatalf("invocation %d: unexpected result %d rows\n%s", i, res.Rows, res.Text)
		}
	}

	filename, _ := seen.Get("filename")
	psr, _ := seen.Get("psr")
	if filename != "/data/net.rdf" || psr != "EnergyConsumer" {
		t.Fatalf("unexpected envelope: %s", seen)
	}

	stats := f.Stats()
	if stats.Dialed != 1 || stats.Reused != 2 {
		t.Fatalf("expected one dial and two reuses, got %+v", stats)
	}
	if stats.Busy != 0 || stats.Idle != 1 {
		t.Fatalf("connection not returned to the pool: %+v", stats)
	}
}

func TestEndToEnd_RemoteErrorIsInteractionFailure(t *testing.T) {
	f := newFactory(t, startEngine(t, engine.NewRegistry()))
	svc := spatial.NewService(f, spatial.Options{Logger: &logging.Logger{}, Metrics: metrics.New()})

	res := svc.Invoke(context.Background(), spatial.Query{Method: "missing"})
	if !domain.IsKind(res.Err, domain.InteractionFailed) {
		t.Fatalf("expected InteractionFailed, got %v", res.Err)
	}
	if !strings.Contains(res.Text, "unknown operation") {
		t.Fatalf("diagnostic does not carry the engine message:\n%s", res.Text)
	}

	// An error response is a complete exchange, so the stream is reusable.
	if stats := f.Stats(); stats.Idle != 1 || stats.Discarded != 0 {
		t.Fatalf("unexpected pool state: %+v", stats)
	}
}

func TestEndToEnd_MidStreamError(t *testing.T) {
	registry := engine.NewRegistry()
	registry.RegisterClass(spatial.DefaultClass, engine.HandlerFunc(func(ctx context.Context, env envelope.Envelope) (engine.Result, error) {
		return engine.Table{Columns: domain.ColumnNames[:], Cursor: &brokenCursor{}}, nil
	}))

	f := newFactory(t, startEngine(t, registry))
	svc := spatial.NewService(f, spatial.Options{Logger: &logging.Logger{}, Metrics: metrics.New()})

	res := svc.Invoke(context.Background(), spatial.Query{Method: "nearest"})
	if !domain.IsKind(res.Err, domain.RowReadFailed) {
		t.Fatalf("expected RowReadFailed, got %v", res.Err)
	}
	if res.Rows != 1 || !strings.HasPrefix(res.Text, `[{ name: "x.name",`) {
		t.Fatalf("partial row not kept:\n%s", res.Text)
	}
}

type brokenCursor struct{ n int }

func (c *brokenCursor) Next() bool {
	c.n++
	return c.n <= 2
}

func (c *brokenCursor) Values() ([]pgtype.Text, error) {
	if c.n == 2 {
		return nil, net.ErrClosed
	}
	return row("x."), nil
}

func (c *brokenCursor) Err() error   { return nil }
func (c *brokenCursor) Close() error { return nil }

func TestFactory_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("loopback listener unavailable: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	f := newFactory(t, addr)
	svc := spatial.NewService(f, spatial.Options{Logger: &logging.Logger{}, Metrics: metrics.New()})
	res := svc.Invoke(context.Background(), spatial.Query{Method: "nearest"})
	if !domain.IsKind(res.Err, domain.ConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", res.Err)
	}
}

func TestFactory_RejectsForeignAddress(t *testing.T) {
	f := newFactory(t, "127.0.0.1:1")
	spec := f.DefaultSpec()
	spec.Address = "tcp://elsewhere:1"
	if _, err := f.Connection(context.Background(), spec); err == nil {
		t.Fatal("expected error for a different address")
	}
}

func TestPing(t *testing.T) {
	addr := startEngine(t, engine.NewRegistry())
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	ec := &engineConn{codec: NewCodec(conn)}
	defer ec.Close()

	if err := ec.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
