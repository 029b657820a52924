package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iut62elec/CIMApplication/internal/api"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		flags    engineFlags
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long:  "Serve GET /cim/Spatial/{method} and forward each call to the execution engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			tracing := cfg.Observability.Tracing
			tracing.ServiceVersion = version
			if err := observability.Init(context.Background(), tracing); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)

			logger := logging.Default()
			if cfg.Daemon.LogFile != "" {
				if err := logger.SetOutput(cfg.Daemon.LogFile); err != nil {
					return fmt.Errorf("open invocation log: %w", err)
				}
			}
			defer logger.Close()

			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			client, err := newEngineClient(ctx, cfg)
			cancel()
			if err != nil {
				return fmt.Errorf("connect engine: %w", err)
			}
			defer client.close()

			invoker, closeCache, err := newInvoker(cfg, client, logger)
			if err != nil {
				return err
			}
			defer closeCache()

			httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
				Handler: &api.Handler{
					Invoker: invoker,
					Checks:  map[string]api.Pinger{"engine": client.ping},
					Stats:   client.stats,
				},
			})
			logging.Op().Info("cimweb started",
				"addr", cfg.Daemon.HTTPAddr,
				"backend", cfg.Engine.Backend,
				"engine", cfg.Engine.Address,
				"version", version,
			)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logging.Op().Info("shutdown signal received", "signal", sig.String())

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&httpAddr, "listen", ":8080", "HTTP listen address")

	return cmd
}
