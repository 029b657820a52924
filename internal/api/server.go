// Package api serves spatial operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/observability"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Handler *Handler
}

// NewServer builds the routes and middleware without starting a listener.
func NewServer(addr string, cfg ServerConfig) *http.Server {
	mux := http.NewServeMux()
	cfg.Handler.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = observability.HTTPMiddleware(handler)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := NewServer(addr, cfg)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	logging.Op().Info("HTTP server started", "addr", addr)
	return server
}
