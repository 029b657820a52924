package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/protobuf/types/known/structpb"
)

// recordSpans installs a provider that keeps finished spans in memory.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	globalProvider = &Provider{tp: tp, tracer: tp.Tracer("test"), enabled: true}
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		Init(context.Background(), Config{})
	})
	return rec
}

func attr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInitDisabled(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if Enabled() {
		t.Fatal("tracing should be disabled")
	}
	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	msg := &structpb.Struct{}
	InjectMessage(ctx, msg)
	if len(msg.GetFields()) != 0 {
		t.Fatalf("disabled tracing stamped %v", msg.GetFields())
	}
}

func TestInitUnknownExporter(t *testing.T) {
	err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "test"})
	if err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestMessagePropagation(t *testing.T) {
	recordSpans(t)

	ctx, span := StartClientSpan(context.Background(), "engine.execute")
	defer span.End()

	msg, err := structpb.NewStruct(map[string]any{"function": "execute_method"})
	if err != nil {
		t.Fatal(err)
	}
	InjectMessage(ctx, msg)
	if msg.GetFields()["traceparent"].GetStringValue() == "" {
		t.Fatalf("no traceparent on message: %v", msg)
	}
	if keys := (MessageCarrier{Msg: msg}).Keys(); len(keys) != 1 || keys[0] != "traceparent" {
		t.Fatalf("Keys = %v", keys)
	}

	remote := ExtractMessage(context.Background(), msg)
	if got, want := GetTraceID(remote), GetTraceID(ctx); got != want || got == "" {
		t.Fatalf("trace id = %q, want %q", got, want)
	}

	bare := ExtractMessage(context.Background(), &structpb.Struct{})
	if GetTraceID(bare) != "" {
		t.Fatal("a message without traceparent must not start a remote trace")
	}
}

func TestHTTPMiddleware_SpatialSpan(t *testing.T) {
	rec := recordSpans(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cim/Spatial/{method...}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, "req-7")
		w.Header().Set(CacheHeader, "hit")
		w.Header().Set(ErrorKindHeader, "ConnectionUnavailable")
		w.Write([]byte("ConnectionUnavailable: acquire connection"))
	})

	w := httptest.NewRecorder()
	HTTPMiddleware(mux).ServeHTTP(w, httptest.NewRequest("GET", "/cim/Spatial/nearest;file=a;n=3", nil))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "GET /cim/Spatial/{method...}" {
		t.Fatalf("span name = %q", s.Name())
	}
	if v, _ := attr(s.Attributes(), AttrOperation); v.AsString() != "nearest" {
		t.Fatalf("operation = %q", v.AsString())
	}
	if v, _ := attr(s.Attributes(), AttrRequestID); v.AsString() != "req-7" {
		t.Fatalf("request id = %q", v.AsString())
	}
	if v, _ := attr(s.Attributes(), AttrCached); !v.AsBool() {
		t.Fatal("cache hit not recorded")
	}
	if s.Status().Code != codes.Error || s.Status().Description != "ConnectionUnavailable" {
		t.Fatalf("status = %+v", s.Status())
	}
}

func TestHTTPMiddleware_OtherRoutes(t *testing.T) {
	rec := recordSpans(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {})

	HTTPMiddleware(mux).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	s := rec.Ended()[0]
	if s.Name() != "GET /health" {
		t.Fatalf("span name = %q", s.Name())
	}
	if _, ok := attr(s.Attributes(), AttrOperation); ok {
		t.Fatal("non-spatial routes carry no operation")
	}
	if s.Status().Code == codes.Error {
		t.Fatalf("unexpected error status %+v", s.Status())
	}
}

func TestHTTPMiddleware_Disabled(t *testing.T) {
	Init(context.Background(), Config{})
	called := false
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/cim/Spatial/nearest", nil))
	if !called || rec.Code != http.StatusTeapot {
		t.Fatalf("handler not called through middleware (code %d)", rec.Code)
	}
}
