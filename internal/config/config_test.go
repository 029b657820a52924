package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Engine.Backend != BackendGRPC || cfg.Daemon.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Defaults.PSR != "EnergyConsumer" || cfg.Defaults.N != "5" {
		t.Fatalf("unexpected operation defaults: %+v", cfg.Defaults)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cimweb.yaml")
	data := `
daemon:
  http_addr: ":9000"
engine:
  backend: wire
  address: vsock://3:7070
  call_timeout: 30s
paths:
  data_dir: /data
  jars:
    ch.ninecode.sp.SpatialOperations: /opt/jars/SpatialOperations.jar
defaults:
  n: "10"
cache:
  enabled: true
  backend: redis
  ttl: 1m
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Daemon.HTTPAddr != ":9000" || cfg.Engine.Backend != BackendWire {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Engine.CallTimeout != 30*time.Second || cfg.Cache.TTL != time.Minute {
		t.Fatalf("durations not parsed: %v %v", cfg.Engine.CallTimeout, cfg.Cache.TTL)
	}
	if cfg.Defaults.N != "10" || cfg.Defaults.PSR != "EnergyConsumer" {
		t.Fatalf("defaults not merged: %+v", cfg.Defaults)
	}
	if cfg.Engine.DialTimeout != 5*time.Second {
		t.Fatalf("unset fields should keep defaults, got %v", cfg.Engine.DialTimeout)
	}

	paths := cfg.SpatialPaths()
	if got := paths.JarPath("ch.ninecode.sp.SpatialOperations"); got != "/opt/jars/SpatialOperations.jar" {
		t.Fatalf("JarPath = %q", got)
	}
	if w := cfg.WireSettings(); w.Address != "vsock://3:7070" || w.CallTimeout != 30*time.Second {
		t.Fatalf("unexpected wire settings: %+v", w)
	}
	if c := cfg.CacheSettings(); c.Backend != "redis" || c.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected cache settings: %+v", c)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("engine: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CIMWEB_ENGINE_BACKEND", "postgres")
	t.Setenv("CIMWEB_POSTGRES_DSN", "postgres://localhost/cim")
	t.Setenv("CIMWEB_ENGINE_CALL_TIMEOUT", "2s")
	t.Setenv("CIMWEB_ENGINE_POOL_SIZE", "not-a-number")
	t.Setenv("CIMWEB_CACHE_ENABLED", "true")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Engine.Backend != BackendPostgres || cfg.Postgres.DSN != "postgres://localhost/cim" {
		t.Fatalf("env not applied: %+v", cfg.Engine)
	}
	if cfg.Engine.CallTimeout != 2*time.Second {
		t.Fatalf("CallTimeout = %v", cfg.Engine.CallTimeout)
	}
	if cfg.Engine.PoolSize != 16 {
		t.Fatalf("invalid number should be ignored, got %d", cfg.Engine.PoolSize)
	}
	if !cfg.Cache.Enabled {
		t.Fatal("cache should be enabled")
	}
	if pg := cfg.PostgresSettings(); pg.CallTimeout != 2*time.Second || pg.Schema != "cim" {
		t.Fatalf("unexpected postgres settings: %+v", pg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Engine.Backend = "jca" }},
		{"wire without address", func(c *Config) { c.Engine.Backend = BackendWire; c.Engine.Address = "" }},
		{"postgres without dsn", func(c *Config) { c.Engine.Backend = BackendPostgres }},
		{"unknown cache", func(c *Config) { c.Cache.Enabled = true; c.Cache.Backend = "memcached" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
