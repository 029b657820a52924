// Package envelope builds the flat key/value record that tells an execution
// engine which operation to run and with which parameters.
//
// An Envelope is immutable once built. Its key order is deterministic:
// method, class, jars (when present), filename, then the operation
// parameters in sorted order. Both transports and the text description
// rely on that order.
package envelope

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/iut62elec/CIMApplication/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// Description is the short description attached to every operation envelope.
const Description = "record containing the file names and class and method to run"

// Envelope is an immutable operation request ready for transmission.
type Envelope struct {
	keys   []string
	values map[string]string
}

// Build creates an envelope. operation and class are required; jars is
// omitted when empty. Parameters that collide with the reserved keys are
// ignored so they cannot redirect the call.
func Build(operation, class, jars, filename string, params map[string]string) (Envelope, error) {
	if operation == "" {
		return Envelope{}, domain.Wrap(domain.InvalidRequest, "build envelope", fmt.Errorf("operation name is required"))
	}
	if class == "" {
		return Envelope{}, domain.Wrap(domain.InvalidRequest, "build envelope", fmt.Errorf("target class is required"))
	}

	e := Envelope{values: make(map[string]string, len(params)+4)}
	e.set(domain.KeyMethod, operation)
	e.set(domain.KeyClass, class)
	if jars != "" {
		e.set(domain.KeyJars, jars)
	}
	e.set(domain.KeyFilename, filename)

	for _, k := range slices.Sorted(maps.Keys(params)) {
		if domain.IsReservedKey(k) {
			continue
		}
		e.set(k, params[k])
	}
	return e, nil
}

// FromRequest builds the envelope for a request whose files are already resolved.
func FromRequest(req *domain.OperationRequest) (Envelope, error) {
	return Build(req.Operation, req.Class, req.Jars, req.Filename(), req.Params)
}

// FromMap rebuilds an envelope received as a plain map, as engine hosts do.
func FromMap(m map[string]string) (Envelope, error) {
	params := make(map[string]string, len(m))
	for k, v := range m {
		if !domain.IsReservedKey(k) {
			params[k] = v
		}
	}
	return Build(m[domain.KeyMethod], m[domain.KeyClass], m[domain.KeyJars], m[domain.KeyFilename], params)
}

// FromStruct decodes an envelope carried as a protobuf Struct. Every field
// must hold a string.
func FromStruct(s *structpb.Struct) (Envelope, error) {
	m := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return Envelope{}, domain.Errorf(domain.InvalidRequest, "decode envelope", "field %q is not a string", k)
		}
		m[k] = sv.StringValue
	}
	return FromMap(m)
}

func (e *Envelope) set(k, v string) {
	e.keys = append(e.keys, k)
	e.values[k] = v
}

// Method returns the operation name.
func (e Envelope) Method() string { return e.values[domain.KeyMethod] }

// Class returns the target implementation identifier.
func (e Envelope) Class() string { return e.values[domain.KeyClass] }

// Get returns the value stored under key.
func (e Envelope) Get(key string) (string, bool) {
	v, ok := e.values[key]
	return v, ok
}

// Keys returns the keys in envelope order.
func (e Envelope) Keys() []string { return slices.Clone(e.keys) }

// Len returns the number of entries.
func (e Envelope) Len() int { return len(e.keys) }

// IsZero reports whether the envelope was never built.
func (e Envelope) IsZero() bool { return e.values == nil }

// Map returns a copy of the entries.
func (e Envelope) Map() map[string]string { return maps.Clone(e.values) }

// Params returns a copy of the non-reserved entries.
func (e Envelope) Params() map[string]string {
	out := make(map[string]string, len(e.values))
	for k, v := range e.values {
		if !domain.IsReservedKey(k) {
			out[k] = v
		}
	}
	return out
}

// Struct converts the envelope into a protobuf Struct for transmission.
func (e Envelope) Struct() *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(e.values))
	for k, v := range e.values {
		fields[k] = structpb.NewStringValue(v)
	}
	return &structpb.Struct{Fields: fields}
}

// String describes the envelope for logs and diagnostics.
func (e Envelope) String() string {
	var b strings.Builder
	b.WriteString(Description)
	b.WriteString(" {")
	for i, k := range e.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.values[k])
	}
	b.WriteByte('}')
	return b.String()
}
