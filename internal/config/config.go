package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iut62elec/CIMApplication/internal/cache"
	"github.com/iut62elec/CIMApplication/internal/grpcengine"
	"github.com/iut62elec/CIMApplication/internal/observability"
	"github.com/iut62elec/CIMApplication/internal/pgengine"
	"github.com/iut62elec/CIMApplication/internal/spatial"
	"github.com/iut62elec/CIMApplication/internal/wire"
	"gopkg.in/yaml.v3"
)

// Engine backends.
const (
	BackendGRPC     = "grpc"
	BackendWire     = "wire"
	BackendPostgres = "postgres"
)

// DaemonConfig holds HTTP daemon settings
type DaemonConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text, json
	LogFile   string `yaml:"log_file"`   // invocation log, JSON lines
}

// EngineConfig selects and tunes the execution engine transport
type EngineConfig struct {
	Backend     string        `yaml:"backend"`
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	PoolSize    int           `yaml:"pool_size"`
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	MaxWait     time.Duration `yaml:"max_wait"`

	// Engine host listeners (cimengine serve)
	GRPCAddr string `yaml:"grpc_addr"`
	WireAddr string `yaml:"wire_addr"`
}

// PostgresConfig holds the database used by the postgres backend and the
// engine host's SQL handlers
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Schema   string `yaml:"schema"`
	MaxConns int32  `yaml:"max_conns"`
}

// PathsConfig resolves input files and code artifacts
type PathsConfig struct {
	DataDir string            `yaml:"data_dir"`
	JarDir  string            `yaml:"jar_dir"`
	Jars    map[string]string `yaml:"jars"`
}

// CacheConfig holds rendered output cache settings
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend"` // memory, redis, tiered
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// ObservabilityConfig holds metrics and tracing settings
type ObservabilityConfig struct {
	Metrics MetricsConfig        `yaml:"metrics"`
	Tracing observability.Config `yaml:"tracing"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Daemon        DaemonConfig        `yaml:"daemon"`
	Engine        EngineConfig        `yaml:"engine"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Paths         PathsConfig         `yaml:"paths"`
	Defaults      spatial.Defaults    `yaml:"defaults"`
	Class         string              `yaml:"class"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			HTTPAddr:  ":8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Engine: EngineConfig{
			Backend:     BackendGRPC,
			Address:     "localhost:9090",
			DialTimeout: 5 * time.Second,
			CallTimeout: 60 * time.Second,
			PoolSize:    16,
			IdleTTL:     60 * time.Second,
			GRPCAddr:    ":9090",
		},
		Postgres: PostgresConfig{
			Schema: pgengine.DefaultSchema,
		},
		Defaults: spatial.StandardDefaults(),
		Class:    spatial.DefaultClass,
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 1000,
			RedisAddr:  "localhost:6379",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Namespace: "cimweb"},
			Tracing: observability.Config{
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "cimweb",
				SampleRate:  1.0,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies CIMWEB_* environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	setString(&cfg.Daemon.HTTPAddr, "CIMWEB_HTTP_ADDR")
	setString(&cfg.Daemon.LogLevel, "CIMWEB_LOG_LEVEL")
	setString(&cfg.Daemon.LogFormat, "CIMWEB_LOG_FORMAT")
	setString(&cfg.Daemon.LogFile, "CIMWEB_LOG_FILE")

	setString(&cfg.Engine.Backend, "CIMWEB_ENGINE_BACKEND")
	setString(&cfg.Engine.Address, "CIMWEB_ENGINE_ADDR")
	setDuration(&cfg.Engine.DialTimeout, "CIMWEB_ENGINE_DIAL_TIMEOUT")
	setDuration(&cfg.Engine.CallTimeout, "CIMWEB_ENGINE_CALL_TIMEOUT")
	setInt(&cfg.Engine.PoolSize, "CIMWEB_ENGINE_POOL_SIZE")
	setDuration(&cfg.Engine.IdleTTL, "CIMWEB_ENGINE_IDLE_TTL")
	setString(&cfg.Engine.GRPCAddr, "CIMWEB_ENGINE_GRPC_ADDR")
	setString(&cfg.Engine.WireAddr, "CIMWEB_ENGINE_WIRE_ADDR")

	setString(&cfg.Postgres.DSN, "CIMWEB_POSTGRES_DSN")
	setString(&cfg.Postgres.Schema, "CIMWEB_POSTGRES_SCHEMA")

	setString(&cfg.Paths.DataDir, "CIMWEB_DATA_DIR")
	setString(&cfg.Paths.JarDir, "CIMWEB_JAR_DIR")
	setString(&cfg.Class, "CIMWEB_CLASS")

	setBool(&cfg.Cache.Enabled, "CIMWEB_CACHE_ENABLED")
	setString(&cfg.Cache.Backend, "CIMWEB_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "CIMWEB_CACHE_TTL")
	setString(&cfg.Cache.RedisAddr, "CIMWEB_REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "CIMWEB_REDIS_PASSWORD")

	setBool(&cfg.Observability.Tracing.Enabled, "CIMWEB_TRACING_ENABLED")
	setString(&cfg.Observability.Tracing.Endpoint, "CIMWEB_TRACING_ENDPOINT")
	setString(&cfg.Observability.Tracing.Exporter, "CIMWEB_TRACING_EXPORTER")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case BackendGRPC, BackendWire:
		if c.Engine.Address == "" {
			return fmt.Errorf("engine.address is required for the %s backend", c.Engine.Backend)
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown engine backend %q", c.Engine.Backend)
	}
	if c.Cache.Enabled {
		switch strings.ToLower(c.Cache.Backend) {
		case "", "memory", "redis", "tiered":
		default:
			return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
		}
	}
	return nil
}

// SpatialPaths returns the path resolver.
func (c *Config) SpatialPaths() *spatial.Paths {
	return &spatial.Paths{DataDir: c.Paths.DataDir, JarDir: c.Paths.JarDir, Jars: c.Paths.Jars}
}

// CacheSettings converts the cache section.
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{
		Backend:    strings.ToLower(c.Cache.Backend),
		MaxEntries: c.Cache.MaxEntries,
		Redis: cache.RedisConfig{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			DB:       c.Cache.RedisDB,
		},
	}
}

// WireSettings converts the engine section for the wire transport.
func (c *Config) WireSettings() wire.Config {
	return wire.Config{
		Address:     c.Engine.Address,
		DialTimeout: c.Engine.DialTimeout,
		CallTimeout: c.Engine.CallTimeout,
		PoolSize:    c.Engine.PoolSize,
		IdleTTL:     c.Engine.IdleTTL,
		MaxWait:     c.Engine.MaxWait,
	}
}

// GRPCSettings converts the engine section for the gRPC transport.
func (c *Config) GRPCSettings() grpcengine.Config {
	return grpcengine.Config{Address: c.Engine.Address, CallTimeout: c.Engine.CallTimeout}
}

// PostgresSettings converts the postgres section.
func (c *Config) PostgresSettings() pgengine.Config {
	return pgengine.Config{
		DSN:         c.Postgres.DSN,
		Schema:      c.Postgres.Schema,
		MaxConns:    c.Postgres.MaxConns,
		CallTimeout: c.Engine.CallTimeout,
	}
}
