package domain

import (
	"slices"
	"strings"
)

// Envelope keys understood by every execution engine.
const (
	KeyMethod   = "method"
	KeyClass    = "class"
	KeyJars     = "jars"
	KeyFilename = "filename"
)

// Parameter keys of the spatial operations.
const (
	ParamPSR = "psr"
	ParamLon = "lon"
	ParamLat = "lat"
	ParamN   = "n"
)

// ExecuteMethod is the interaction function that runs a class method on the engine.
const ExecuteMethod = "execute_method"

// OperationRequest describes one remote operation before it is turned into
// an envelope. Operation and Class are required; everything else is
// optional and defaulted by the caller.
type OperationRequest struct {
	Operation string            `json:"operation"`
	Class     string            `json:"class"`
	Jars      string            `json:"jars,omitempty"`
	Files     []string          `json:"files,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Filename joins the already resolved input paths the way the engine expects them.
func (r *OperationRequest) Filename() string {
	return strings.Join(r.Files, ",")
}

// ParamKeys returns the parameter names in sorted order.
func (r *OperationRequest) ParamKeys() []string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// IsReservedKey reports whether key is owned by the envelope itself and
// cannot be supplied as an operation parameter.
func IsReservedKey(key string) bool {
	switch key {
	case KeyMethod, KeyClass, KeyJars, KeyFilename:
		return true
	}
	return false
}
