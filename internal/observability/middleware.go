package observability

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Response headers the gateway sets on spatial calls. Spatial calls always
// answer 200, so a failure is only visible through ErrorKindHeader.
const (
	RequestIDHeader = "X-Request-ID"
	CacheHeader     = "X-Cache"
	ErrorKindHeader = "X-Error-Kind"
)

// HTTPMiddleware opens a server span per request, continuing any trace the
// client sent. Once the mux has routed the request the span is renamed to
// the matched pattern and, for spatial calls, annotated with the operation,
// the request id and the cache outcome.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartServerSpan(ctx, r.Method,
			semconv.HTTPMethod(r.Method),
			semconv.HTTPTarget(r.URL.Path),
		)
		defer span.End()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		routed := r.WithContext(ctx)
		next.ServeHTTP(rw, routed)

		if routed.Pattern != "" {
			span.SetName(routed.Pattern)
		}
		span.SetAttributes(
			semconv.HTTPStatusCode(rw.statusCode),
			attribute.Int64("http.response_size", rw.bytesWritten),
		)
		if op := operation(routed); op != "" {
			span.SetAttributes(
				AttrOperation.String(op),
				AttrRequestID.String(rw.Header().Get(RequestIDHeader)),
				AttrCached.Bool(rw.Header().Get(CacheHeader) == "hit"),
			)
		}

		switch kind := rw.Header().Get(ErrorKindHeader); {
		case kind != "":
			span.SetAttributes(AttrErrorKind.String(kind))
			span.SetStatus(codes.Error, kind)
		case rw.statusCode >= 500:
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// operation returns the spatial method named in the routed path, without
// its matrix parameters.
func operation(r *http.Request) string {
	method, _, _ := strings.Cut(r.PathValue("method"), ";")
	return method
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
