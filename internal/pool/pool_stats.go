package pool

import (
	"sync/atomic"

	"github.com/iut62elec/CIMApplication/internal/metrics"
)

type counters struct {
	dialed     atomic.Int64
	dialErrors atomic.Int64
	reused     atomic.Int64
	discarded  atomic.Int64
	expired    atomic.Int64
	timeouts   atomic.Int64
}

// Stats is a snapshot of the pool.
type Stats struct {
	Address    string `json:"address"`
	Idle       int    `json:"idle"`
	Busy       int    `json:"busy"`
	MaxSize    int    `json:"max_size"`
	Waiters    int    `json:"waiters"`
	Dialed     int64  `json:"dialed"`
	DialErrors int64  `json:"dial_errors"`
	Reused     int64  `json:"reused"`
	Discarded  int64  `json:"discarded"`
	Expired    int64  `json:"expired"`
	Timeouts   int64  `json:"timeouts"`
}

// Stats returns the current pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, total, waiters := len(p.idle), p.total, p.waiters
	p.mu.Unlock()

	return Stats{
		Address:    p.cfg.Address,
		Idle:       idle,
		Busy:       total - idle,
		MaxSize:    p.cfg.MaxSize,
		Waiters:    waiters,
		Dialed:     p.stats.dialed.Load(),
		DialErrors: p.stats.dialErrors.Load(),
		Reused:     p.stats.reused.Load(),
		Discarded:  p.stats.discarded.Load(),
		Expired:    p.stats.expired.Load(),
		Timeouts:   p.stats.timeouts.Load(),
	}
}

func (p *Pool) publish() {
	s := p.Stats()
	metrics.SetPoolConnections(s.Address, s.Idle, s.Busy)
}
