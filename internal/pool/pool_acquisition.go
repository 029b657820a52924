package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/iut62elec/CIMApplication/internal/logging"
)

// Acquire returns an exclusive connection, reusing a healthy idle one when
// possible, dialing a new one while below MaxSize, and otherwise waiting for
// a Release.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	var deadline time.Time
	if p.cfg.MaxWait > 0 {
		deadline = time.Now().Add(p.cfg.MaxWait)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if pc := p.takeIdleLocked(); pc != nil {
			p.mu.Unlock()
			if err := pc.Conn.Ping(ctx); err != nil {
				logging.Op().Debug("dropping unhealthy pooled connection", "address", p.cfg.Address, "error", err)
				p.Discard(pc)
				continue
			}
			pc.Reused = true
			pc.LastUsed = time.Now()
			p.stats.reused.Add(1)
			return pc, nil
		}

		if p.total < p.cfg.MaxSize {
			p.total++
			p.mu.Unlock()
			return p.open(ctx)
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			p.mu.Unlock()
			p.stats.timeouts.Add(1)
			return nil, fmt.Errorf("pool: no connection to %s within %v", p.cfg.Address, p.cfg.MaxWait)
		}
		err := p.waitLocked(ctx, time.Until(deadline))
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

func (p *Pool) open(ctx context.Context) (*PooledConn, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.cond.Signal()
		p.mu.Unlock()
		p.stats.dialErrors.Add(1)
		return nil, fmt.Errorf("dial %s: %w", p.cfg.Address, err)
	}

	now := time.Now()
	p.stats.dialed.Add(1)
	p.publish()
	logging.Op().Debug("opened engine connection", "address", p.cfg.Address)
	return &PooledConn{Conn: conn, Created: now, LastUsed: now}, nil
}

// takeIdleLocked pops the most recently used idle connection.
func (p *Pool) takeIdleLocked() *PooledConn {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	pc := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return pc
}

// waitLocked blocks on the condition variable until a slot may be free, ctx
// is done, or waitFor elapses. p.mu must be held.
func (p *Pool) waitLocked(ctx context.Context, waitFor time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.waiters++
	defer func() { p.waiters-- }()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	var timer *time.Timer
	if p.cfg.MaxWait > 0 && waitFor > 0 {
		timer = time.AfterFunc(waitFor, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
	}

	p.cond.Wait()
	close(done)
	if timer != nil {
		timer.Stop()
	}
	return ctx.Err()
}
