package engine

import (
	"fmt"
	"strconv"

	"github.com/iut62elec/CIMApplication/internal/envelope"
	"github.com/jackc/pgx/v5/pgtype"
	"google.golang.org/protobuf/types/known/structpb"
)

// FunctionPing is the health-check function every host answers.
const FunctionPing = "ping"

// Response message kinds.
const (
	KindTable = "table"
	KindValue = "value"
	KindError = "error"
	KindEnd   = "end"
	KindPong  = "pong"
)

// Message field names.
const (
	fieldFunction    = "function"
	fieldRequestID   = "request_id"
	fieldInput       = "input"
	fieldKind        = "kind"
	fieldColumns     = "columns"
	fieldValue       = "value"
	fieldError       = "error"
	fieldRow         = "row"
)

// Request is one decoded engine request.
type Request struct {
	Function  string
	RequestID string
	Envelope  envelope.Envelope
}

// RequestMessage encodes a request.
func RequestMessage(req Request) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldFunction:  structpb.NewStringValue(req.Function),
		fieldRequestID: structpb.NewStringValue(req.RequestID),
	}
	if !req.Envelope.IsZero() {
		fields[fieldInput] = structpb.NewStructValue(req.Envelope.Struct())
	}
	return &structpb.Struct{Fields: fields}
}

// PingMessage encodes a health check.
func PingMessage() *structpb.Struct {
	return RequestMessage(Request{Function: FunctionPing})
}

// ParseRequest decodes a request message. The envelope is required for
// every function except ping.
func ParseRequest(msg *structpb.Struct) (Request, error) {
	f := msg.GetFields()
	req := Request{
		Function:  f[fieldFunction].GetStringValue(),
		RequestID: f[fieldRequestID].GetStringValue(),
	}
	if req.Function == "" {
		return req, fmt.Errorf("request has no function")
	}
	if req.Function == FunctionPing {
		return req, nil
	}
	input := f[fieldInput].GetStructValue()
	if input == nil {
		return req, fmt.Errorf("request %s has no input record", req.RequestID)
	}
	env, err := envelope.FromStruct(input)
	if err != nil {
		return req, err
	}
	req.Envelope = env
	return req, nil
}

func kindMessage(kind string, extra map[string]*structpb.Value) *structpb.Struct {
	fields := map[string]*structpb.Value{fieldKind: structpb.NewStringValue(kind)}
	for k, v := range extra {
		fields[k] = v
	}
	return &structpb.Struct{Fields: fields}
}

// TableHeader opens a tabular response.
func TableHeader(columns []string) *structpb.Struct {
	cols := make([]*structpb.Value, len(columns))
	for i, c := range columns {
		cols[i] = structpb.NewStringValue(c)
	}
	return kindMessage(KindTable, map[string]*structpb.Value{
		fieldColumns: structpb.NewListValue(&structpb.ListValue{Values: cols}),
	})
}

// ValueMessage carries a non-tabular result.
func ValueMessage(v any) (*structpb.Struct, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return kindMessage(KindValue, map[string]*structpb.Value{fieldValue: pv}), nil
}

// ErrorMessage reports a failure, before or in the middle of a table.
func ErrorMessage(msg string) *structpb.Struct {
	return kindMessage(KindError, map[string]*structpb.Value{fieldError: structpb.NewStringValue(msg)})
}

// EndMessage closes a tabular response.
func EndMessage() *structpb.Struct { return kindMessage(KindEnd, nil) }

// PongMessage answers a ping.
func PongMessage() *structpb.Struct { return kindMessage(KindPong, nil) }

// RowMessage carries one row; invalid values travel as null.
func RowMessage(values []pgtype.Text) *structpb.Struct {
	vals := make([]*structpb.Value, len(values))
	for i, v := range values {
		if v.Valid {
			vals[i] = structpb.NewStringValue(v.String)
		} else {
			vals[i] = structpb.NewNullValue()
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldRow: structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// Kind returns the kind of a response message, or "" for a row.
func Kind(msg *structpb.Struct) string {
	return msg.GetFields()[fieldKind].GetStringValue()
}

// Columns returns the column names of a table header.
func Columns(msg *structpb.Struct) []string {
	list := msg.GetFields()[fieldColumns].GetListValue().GetValues()
	cols := make([]string, len(list))
	for i, v := range list {
		cols[i] = v.GetStringValue()
	}
	return cols
}

// ErrorText returns the text of an error message.
func ErrorText(msg *structpb.Struct) string {
	return msg.GetFields()[fieldError].GetStringValue()
}

// ValueOf returns the payload of a value message.
func ValueOf(msg *structpb.Struct) any {
	return msg.GetFields()[fieldValue].AsInterface()
}

// RowValues decodes a row message. Numbers and booleans are converted to
// their text form.
func RowValues(msg *structpb.Struct) ([]pgtype.Text, bool) {
	lv, ok := msg.GetFields()[fieldRow]
	if !ok {
		return nil, false
	}
	list := lv.GetListValue().GetValues()
	out := make([]pgtype.Text, len(list))
	for i, v := range list {
		switch k := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[i] = pgtype.Text{String: k.StringValue, Valid: true}
		case *structpb.Value_NumberValue:
			out[i] = pgtype.Text{String: strconv.FormatFloat(k.NumberValue, 'f', -1, 64), Valid: true}
		case *structpb.Value_BoolValue:
			out[i] = pgtype.Text{String: strconv.FormatBool(k.BoolValue), Valid: true}
		}
	}
	return out, true
}
