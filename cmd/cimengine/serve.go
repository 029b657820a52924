package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/iut62elec/CIMApplication/internal/config"
	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/grpcengine"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/metrics"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/iut62elec/CIMApplication/internal/pgengine"
	"github.com/iut62elec/CIMApplication/internal/wire"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		grpcAddr    string
		wireAddr    string
		metricsAddr string
		pgDSN       string
		schema      string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine host",
		Long:  "Serve operations of the configured class from PostgreSQL functions on gRPC and/or wire listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("grpc") {
				cfg.Engine.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("wire") {
				cfg.Engine.WireAddr = wireAddr
			}
			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("schema") {
				cfg.Postgres.Schema = schema
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cfg.Engine.GRPCAddr == "" && cfg.Engine.WireAddr == "" {
				return errors.New("no listener configured: set --grpc or --wire")
			}
			if cfg.Postgres.DSN == "" {
				return errors.New("postgres DSN is required: set --pg-dsn or CIMWEB_POSTGRES_DSN")
			}
			if cfg.Observability.Tracing.ServiceName == "" || cfg.Observability.Tracing.ServiceName == "cimweb" {
				cfg.Observability.Tracing.ServiceName = "cimengine"
			}

			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			tracing := cfg.Observability.Tracing
			tracing.ServiceVersion = version
			if err := observability.Init(context.Background(), tracing); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := pgengine.NewPool(ctx, cfg.PostgresSettings())
			if err != nil {
				return err
			}
			defer pool.Close()

			registry := engine.NewRegistry()
			registry.RegisterClass(cfg.Class, pgengine.NewHandler(pool, cfg.Postgres.Schema))
			logging.Op().Info("registered SQL handlers", "class", cfg.Class, "schema", cfg.Postgres.Schema)

			g, gctx := errgroup.WithContext(ctx)
			if cfg.Engine.GRPCAddr != "" {
				srv := grpcengine.NewServer(registry)
				g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Engine.GRPCAddr) })
			}
			if cfg.Engine.WireAddr != "" {
				srv := wire.NewServer(registry)
				g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Engine.WireAddr) })
			}
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("GET /metrics", metrics.PrometheusHandler())
				httpServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				g.Go(func() error {
					if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return httpServer.Shutdown(shutdownCtx)
				})
			}

			logging.Op().Info("cimengine started", "grpc", cfg.Engine.GRPCAddr, "wire", cfg.Engine.WireAddr, "version", version)
			err = g.Wait()
			logging.Op().Info("cimengine stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&grpcAddr, "grpc", ":9090", "gRPC listen address (empty to disable)")
	cmd.Flags().StringVar(&wireAddr, "wire", "", "Wire listen address: host:port, unix://path or vsock://cid:port")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Prometheus listen address (empty to disable)")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "PostgreSQL DSN")
	cmd.Flags().StringVar(&schema, "schema", pgengine.DefaultSchema, "Schema holding the operation functions")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}
