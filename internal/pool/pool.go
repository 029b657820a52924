// Package pool keeps warm connections to one execution engine address.
//
// Connections are handed out exclusively: a caller Acquires one, uses it
// for a single interaction and gives it back with Release, or with Discard
// when the stream is no longer trustworthy. Idle connections are pinged
// before reuse and closed after IdleTTL.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultIdleTTL         = 60 * time.Second
	DefaultMaxSize         = 16
	DefaultCleanupInterval = 10 * time.Second
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("pool: closed")

// Conn is a pooled engine connection.
type Conn interface {
	// Ping checks that the peer still answers.
	Ping(ctx context.Context) error
	Close() error
}

// DialFunc opens a new connection.
type DialFunc func(ctx context.Context) (Conn, error)

// Config tunes a Pool. Zero fields take the package defaults.
type Config struct {
	Address         string
	MaxSize         int
	IdleTTL         time.Duration
	CleanupInterval time.Duration
	// MaxWait bounds how long Acquire waits for a free slot; 0 waits until
	// the context is done.
	MaxWait time.Duration
}

// PooledConn is a connection checked out of the pool.
type PooledConn struct {
	Conn     Conn
	Created  time.Time
	LastUsed time.Time
	Reused   bool
}

// Pool is safe for concurrent use.
type Pool struct {
	cfg  Config
	dial DialFunc

	mu      sync.Mutex
	cond    *sync.Cond
	idle    []*PooledConn // LIFO: most recently used last
	total   int           // idle + checked out + dialing
	waiters int
	closed  bool

	stats counters

	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a pool that opens connections with dial.
func New(cfg Config, dial DialFunc) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{cfg: cfg, dial: dial, ctx: ctx, cancel: cancel}
	p.cond = sync.NewCond(&p.mu)

	go p.cleanupLoop()
	return p
}

// Close closes every idle connection and fails waiting and future
// Acquire calls. Checked-out connections are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()

	var errs []error
	for _, pc := range idle {
		if err := pc.Conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.publish()
	return errors.Join(errs...)
}
