// Package metrics keeps in-process invocation statistics and bridges them to
// Prometheus.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects invocation statistics for the JSON stats endpoint.
type Metrics struct {
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64
	CacheHits          atomic.Int64
	RowsReturned       atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	opMetrics sync.Map // operation -> *OperationMetrics

	startTime time.Time
}

// OperationMetrics tracks a single operation.
type OperationMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	Rows        atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

const noMin = int64(^uint64(0) >> 1)

var global = New()

// New returns an empty collector.
func New() *Metrics {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(noMin)
	return m
}

// Global returns the process-wide collector.
func Global() *Metrics {
	return global
}

// StartTime returns when the process-wide collector was created.
func StartTime() time.Time {
	return global.startTime
}

// RecordInvocation records one invocation and forwards it to Prometheus.
func (m *Metrics) RecordInvocation(operation, format string, durationMs int64, rows int, success, fromCache bool) {
	m.TotalInvocations.Add(1)
	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}
	if fromCache {
		m.CacheHits.Add(1)
	}
	m.RowsReturned.Add(int64(rows))
	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	om := m.operationMetrics(operation)
	om.Invocations.Add(1)
	if success {
		om.Successes.Add(1)
	} else {
		om.Failures.Add(1)
	}
	om.Rows.Add(int64(rows))
	om.TotalMs.Add(durationMs)
	updateMin(&om.MinMs, durationMs)
	updateMax(&om.MaxMs, durationMs)

	RecordPrometheusInvocation(operation, format, durationMs, rows, success)
}

func (m *Metrics) operationMetrics(operation string) *OperationMetrics {
	if v, ok := m.opMetrics.Load(operation); ok {
		return v.(*OperationMetrics)
	}
	om := &OperationMetrics{}
	om.MinMs.Store(noMin)
	actual, _ := m.opMetrics.LoadOrStore(operation, om)
	return actual.(*OperationMetrics)
}

// Snapshot returns a point-in-time view of the counters.
func (m *Metrics) Snapshot() map[string]any {
	total := m.TotalInvocations.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	return map[string]any{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"invocations": map[string]any{
			"total":      total,
			"success":    m.SuccessInvocations.Load(),
			"failed":     m.FailedInvocations.Load(),
			"cache_hits": m.CacheHits.Load(),
			"rows":       m.RowsReturned.Load(),
		},
		"latency_ms": map[string]any{
			"avg": avgLatency,
			"min": minOrZero(m.MinLatencyMs.Load()),
			"max": m.MaxLatencyMs.Load(),
		},
	}
}

// OperationStats returns the per-operation counters.
func (m *Metrics) OperationStats() map[string]any {
	result := make(map[string]any)
	m.opMetrics.Range(func(key, value any) bool {
		om := value.(*OperationMetrics)
		total := om.Invocations.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(om.TotalMs.Load()) / float64(total)
		}
		result[key.(string)] = map[string]any{
			"invocations": total,
			"successes":   om.Successes.Load(),
			"failures":    om.Failures.Load(),
			"rows":        om.Rows.Load(),
			"avg_ms":      avgMs,
			"min_ms":      minOrZero(om.MinMs.Load()),
			"max_ms":      om.MaxMs.Load(),
		}
		return true
	})
	return result
}

// JSONHandler exposes the counters as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["operations"] = m.OperationStats()
		json.NewEncoder(w).Encode(result)
	})
}

func minOrZero(v int64) int64 {
	if v == noMin {
		return 0
	}
	return v
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value >= cur || target.CompareAndSwap(cur, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		cur := target.Load()
		if value <= cur || target.CompareAndSwap(cur, value) {
			return
		}
	}
}
