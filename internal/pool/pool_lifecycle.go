package pool

import (
	"time"

	"github.com/iut62elec/CIMApplication/internal/logging"
)

// Release returns pc to the idle set.
func (p *Pool) Release(pc *PooledConn) {
	if pc == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.total--
		p.mu.Unlock()
		pc.Conn.Close()
		return
	}
	pc.LastUsed = time.Now()
	p.idle = append(p.idle, pc)
	if p.waiters > 0 {
		p.cond.Signal()
	}
	p.mu.Unlock()
	p.publish()
}

// Discard closes pc and frees its slot.
func (p *Pool) Discard(pc *PooledConn) {
	if pc == nil {
		return
	}
	pc.Conn.Close()
	p.mu.Lock()
	p.total--
	if p.waiters > 0 {
		p.cond.Signal()
	}
	p.mu.Unlock()
	p.stats.discarded.Add(1)
	p.publish()
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.cleanupExpired()
		}
	}
}

// cleanupExpired closes idle connections unused for longer than IdleTTL.
// Connections are closed after the lock is released.
func (p *Pool) cleanupExpired() {
	now := time.Now()

	p.mu.Lock()
	var expired []*PooledConn
	kept := p.idle[:0]
	for _, pc := range p.idle {
		if now.Sub(pc.LastUsed) > p.cfg.IdleTTL {
			expired = append(expired, pc)
			continue
		}
		kept = append(kept, pc)
	}
	for i := len(kept); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = kept
	p.total -= len(expired)
	if len(expired) > 0 && p.waiters > 0 {
		p.cond.Broadcast()
	}
	p.mu.Unlock()

	for _, pc := range expired {
		logging.Op().Debug("closing idle engine connection",
			"address", p.cfg.Address,
			"idle", now.Sub(pc.LastUsed).Round(time.Second))
		pc.Conn.Close()
	}
	if len(expired) > 0 {
		p.stats.expired.Add(int64(len(expired)))
		p.publish()
	}
}
