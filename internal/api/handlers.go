package api

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/iut62elec/CIMApplication/internal/render"
	"github.com/iut62elec/CIMApplication/internal/spatial"
)

// Pinger is a dependency the health check reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles the spatial resource and the operational endpoints.
type Handler struct {
	Invoker spatial.Invoker
	// Checks are pinged by GET /health, keyed by component name.
	Checks map[string]Pinger
	// Stats, when set, adds transport details to GET /stats.
	Stats func() any
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cim/Spatial/{method...}", h.Spatial)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /stats", h.StatsJSON)
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
}

// Spatial handles GET /cim/Spatial/{method};file=a;file=b;psr=…;lon=…;lat=…;n=…
// The response is always 200 with a text body; failures are reported in
// the body after any rows that were read.
func (h *Handler) Spatial(w http.ResponseWriter, r *http.Request) {
	q := parseQuery(r)

	res := h.Invoker.Invoke(r.Context(), q)

	w.Header().Set("Content-Type", res.Format.ContentType())
	if res.RequestID != "" {
		w.Header().Set(observability.RequestIDHeader, res.RequestID)
	}
	if res.FromCache {
		w.Header().Set(observability.CacheHeader, "hit")
	}
	if res.Err != nil {
		w.Header().Set(observability.ErrorKindHeader, connector.Describe(res.Err))
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Text))
}

// parseQuery reads the method and its matrix parameters from the path
// segment, then query-string parameters. Repeated file parameters are
// kept in order; for other keys the last value wins.
func parseQuery(r *http.Request) spatial.Query {
	segment := r.PathValue("method")
	method, matrix, _ := strings.Cut(segment, ";")

	q := spatial.Query{
		Method: method,
		Params: make(map[string]string),
		Format: negotiate(r.Header.Get("Accept")),
	}
	add := func(key, value string) {
		switch key {
		case "":
		case "file":
			if value != "" {
				q.Files = append(q.Files, value)
			}
		default:
			q.Params[key] = value
		}
	}

	if matrix != "" {
		for _, kv := range strings.Split(matrix, ";") {
			key, value, _ := strings.Cut(kv, "=")
			add(key, value)
		}
	}
	for key, values := range r.URL.Query() {
		for _, v := range values {
			add(key, v)
		}
	}
	return q
}

// negotiate picks JSON when the client accepts application/json, and the
// legacy text format otherwise.
func negotiate(accept string) render.Format {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mt == render.JSONContentType {
			return render.FormatJSON
		}
	}
	return render.FormatText
}

// Health handles GET /health - detailed status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	components := make(map[string]any, len(h.Checks))
	for name, p := range h.Checks {
		if err := p.Ping(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"ok": false, "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"ok": true}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":         status,
		"components":     components,
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// HealthLive handles GET /health/live - liveness check
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsJSON handles GET /stats
func (h *Handler) StatsJSON(w http.ResponseWriter, r *http.Request) {
	m := metrics.Global()
	result := m.Snapshot()
	result["operations"] = m.OperationStats()
	if h.Stats != nil {
		result["engine"] = h.Stats()
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
