package main

import (
	"context"
	"fmt"
	"time"

	"github.com/iut62elec/CIMApplication/internal/api"
	"github.com/iut62elec/CIMApplication/internal/cache"
	"github.com/iut62elec/CIMApplication/internal/config"
	"github.com/iut62elec/CIMApplication/internal/connector"
	"github.com/iut62elec/CIMApplication/internal/grpcengine"
	"github.com/iut62elec/CIMApplication/internal/logging"
	"github.com/iut62elec/CIMApplication/internal/pgengine"
	"github.com/iut62elec/CIMApplication/internal/spatial"
	"github.com/iut62elec/CIMApplication/internal/wire"
	"github.com/spf13/cobra"
)

// engineFlags are the flags shared by serve and invoke.
type engineFlags struct {
	backend  string
	address  string
	pgDSN    string
	dataDir  string
	logLevel string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", config.BackendGRPC, "Engine backend (grpc, wire, postgres)")
	cmd.Flags().StringVar(&f.address, "engine", "localhost:9090", "Engine address (host:port, unix://path, vsock://cid:port)")
	cmd.Flags().StringVar(&f.pgDSN, "pg-dsn", "", "PostgreSQL DSN for the postgres backend")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "", "Directory relative input files are resolved against")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level")
}

// loadConfig merges defaults, the config file, CIMWEB_* variables and the
// flags that were set explicitly, in that order.
func loadConfig(cmd *cobra.Command, f *engineFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("backend") {
		cfg.Engine.Backend = f.backend
	}
	if cmd.Flags().Changed("engine") {
		cfg.Engine.Address = f.address
	}
	if cmd.Flags().Changed("pg-dsn") {
		cfg.Postgres.DSN = f.pgDSN
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.Paths.DataDir = f.dataDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Daemon.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// engineClient is a connector factory plus what the daemon reports about it.
type engineClient struct {
	factory connector.Factory
	ping    api.Pinger
	stats   func() any
	close   func() error
}

func newEngineClient(ctx context.Context, cfg *config.Config) (*engineClient, error) {
	switch cfg.Engine.Backend {
	case config.BackendWire:
		f, err := wire.NewFactory(cfg.WireSettings())
		if err != nil {
			return nil, err
		}
		return &engineClient{factory: f, ping: f, stats: func() any { return f.Stats() }, close: f.Close}, nil
	case config.BackendPostgres:
		f, err := pgengine.NewFactory(ctx, cfg.PostgresSettings())
		if err != nil {
			return nil, err
		}
		return &engineClient{factory: f, ping: f, close: f.Close}, nil
	default:
		f, err := grpcengine.NewFactory(cfg.GRPCSettings())
		if err != nil {
			return nil, err
		}
		return &engineClient{factory: f, ping: f, close: f.Close}, nil
	}
}

// newInvoker builds the service, wrapped in the output cache when enabled.
func newInvoker(cfg *config.Config, client *engineClient, logger *logging.Logger) (spatial.Invoker, func() error, error) {
	svc := spatial.NewService(client.factory, spatial.Options{
		Class:    cfg.Class,
		Defaults: cfg.Defaults,
		Paths:    cfg.SpatialPaths(),
		Logger:   logger,
	})
	if !cfg.Cache.Enabled {
		return svc, func() error { return nil }, nil
	}

	c, err := cache.New(cfg.CacheSettings())
	if err != nil {
		return nil, nil, err
	}
	logging.Op().Info("output cache enabled", "backend", cfg.Cache.Backend, "ttl", cfg.Cache.TTL)
	return spatial.NewCachedService(svc, c, cfg.Cache.TTL, cfg.Engine.CallTimeout), c.Close, nil
}

// connectTimeout bounds backend setup that dials eagerly.
const connectTimeout = 10 * time.Second
