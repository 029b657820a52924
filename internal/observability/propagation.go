package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageCarrier lets the W3C propagator read and write the top-level string
// fields of an engine request message, so a gateway span continues on the
// engine host whichever transport carried the message.
type MessageCarrier struct {
	Msg *structpb.Struct
}

func (c MessageCarrier) Get(key string) string {
	return c.Msg.GetFields()[key].GetStringValue()
}

func (c MessageCarrier) Set(key, value string) {
	if c.Msg.Fields == nil {
		c.Msg.Fields = make(map[string]*structpb.Value)
	}
	c.Msg.Fields[key] = structpb.NewStringValue(value)
}

// Keys lists the propagation fields present on the message.
func (c MessageCarrier) Keys() []string {
	var keys []string
	for _, k := range otel.GetTextMapPropagator().Fields() {
		if _, ok := c.Msg.GetFields()[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// InjectMessage stamps the span in ctx onto an outgoing request message.
// Nothing is written while tracing is disabled.
func InjectMessage(ctx context.Context, msg *structpb.Struct) {
	if !Enabled() {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, MessageCarrier{Msg: msg})
}

// ExtractMessage returns ctx continuing the remote span stamped on msg, or
// ctx unchanged when msg carries none.
func ExtractMessage(ctx context.Context, msg *structpb.Struct) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, MessageCarrier{Msg: msg})
}

// GetTraceID returns the trace ID in ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
