package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"google.golang.org/protobuf/types/known/structpb"
)

// SendFunc writes one response message to the caller.
type SendFunc func(*structpb.Struct) error

// Serve answers one request message, streaming the response through send.
// Operation failures are reported to the caller as error messages; the
// returned error is a transport failure from send.
func (r *Registry) Serve(ctx context.Context, transport string, msg *structpb.Struct, send SendFunc) error {
	req, err := ParseRequest(msg)
	if err != nil {
		return send(ErrorMessage(err.Error()))
	}
	if req.Function == FunctionPing {
		return send(PongMessage())
	}

	start := time.Now()
	ctx = observability.ExtractMessage(ctx, msg)
	ctx, span := observability.StartServerSpan(ctx, "engine.execute",
		observability.AttrOperation.String(req.Envelope.Method()),
		observability.AttrClass.String(req.Envelope.Class()),
		observability.AttrRequestID.String(req.RequestID),
		observability.AttrTransport.String(transport),
	)
	defer span.End()

	log := logging.OpContext(ctx).With("request_id", req.RequestID, "transport", transport,
		"class", req.Envelope.Class(), "method", req.Envelope.Method())
	handler := req.Envelope.Class() + "." + req.Envelope.Method()

	var sendErr error
	guarded := func(m *structpb.Struct) error {
		if sendErr == nil {
			sendErr = send(m)
		}
		return sendErr
	}
	rows, opErr := r.serve(ctx, req, guarded)
	if opErr != nil {
		observability.SetSpanError(span, opErr)
		log.Warn("operation failed", "error", opErr, "rows", rows)
	} else {
		observability.SetSpanOK(span)
		log.Info("operation completed", "rows", rows, "duration_ms", time.Since(start).Milliseconds())
	}
	span.SetAttributes(observability.AttrRows.Int(rows))
	metrics.RecordEngineRequest(transport, handler, opErr == nil && sendErr == nil)
	return sendErr
}

// serve streams the result of req and returns the number of rows sent and
// the operation error reported to the caller. Send failures are left to the
// caller's send func.
func (r *Registry) serve(ctx context.Context, req Request, send SendFunc) (int, error) {
	res, err := r.Dispatch(ctx, req)
	if err != nil {
		send(ErrorMessage(err.Error()))
		return 0, err
	}

	switch res := res.(type) {
	case Value:
		msg, err := ValueMessage(res.V)
		if err != nil {
			send(ErrorMessage(err.Error()))
			return 0, err
		}
		send(msg)
		return 0, nil

	case Table:
		defer res.Cursor.Close()
		if err := send(TableHeader(res.Columns)); err != nil {
			return 0, nil
		}
		rows := 0
		for res.Cursor.Next() {
			vals, err := res.Cursor.Values()
			if err != nil {
				send(ErrorMessage(err.Error()))
				return rows, err
			}
			if err := send(RowMessage(vals)); err != nil {
				return rows, nil
			}
			rows++
		}
		if err := res.Cursor.Err(); err != nil {
			send(ErrorMessage(err.Error()))
			return rows, err
		}
		send(EndMessage())
		return rows, nil
	}
	err = fmt.Errorf("engine: unsupported result type %T", res)
	send(ErrorMessage(err.Error()))
	return 0, err
}
