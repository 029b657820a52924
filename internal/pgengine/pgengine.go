// Package pgengine runs operations as PostgreSQL set-returning functions.
// An operation named m of the configured schema s is called as
// SELECT * FROM "s"."m"($1::jsonb) with the envelope as the argument.
package pgengine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema holds the operation functions when none is configured.
const DefaultSchema = "cim"

// Config configures the connection pool.
type Config struct {
	DSN         string
	Schema      string
	MaxConns    int32
	CallTimeout time.Duration
}

func (c Config) schema() string {
	if c.Schema == "" {
		return DefaultSchema
	}
	return c.Schema
}

// NewPool opens and pings a pool for cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Query returns the statement that calls method in schema.
func Query(schema, method string) string {
	return fmt.Sprintf("SELECT * FROM %s($1::jsonb)", pgx.Identifier{schema, method}.Sanitize())
}
