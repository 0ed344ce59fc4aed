package metrics

import (
	"sync"
	"time"
)

// MemoryMetrics tracks counters for the ingest, retrieval and reconcile paths.
// A nil *MemoryMetrics is valid and records nothing.
type MemoryMetrics struct {
	mu sync.RWMutex

	// Ingest metrics
	Ingested       int64
	IngestFailures int64
	PendingSyncs   int64
	IngestLatency  time.Duration

	// Query metrics
	Queries         int64
	DegradedQueries int64
	VectorTimeouts  int64
	GraphTimeouts   int64
	QueryLatency    time.Duration

	// Background metrics
	Reconciled        int64
	ReconcileFailures int64
	Swept             int64
}

// NewMemoryMetrics creates a new MemoryMetrics instance
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{}
}

// RecordIngest records one ingest attempt
func (m *MemoryMetrics) RecordIngest(success, pending bool, latency time.Duration) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !success {
		m.IngestFailures++
		return
	}

	m.Ingested++
	if pending {
		m.PendingSyncs++
	}
	m.IngestLatency += latency
}

// RecordQuery records one retrieval
func (m *MemoryMetrics) RecordQuery(degraded, vectorTimeout, graphTimeout bool, latency time.Duration) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Queries++
	if degraded {
		m.DegradedQueries++
	}
	if vectorTimeout {
		m.VectorTimeouts++
	}
	if graphTimeout {
		m.GraphTimeouts++
	}
	m.QueryLatency += latency
}

// RecordReconcile records the outcome of a reconciliation pass
func (m *MemoryMetrics) RecordReconcile(synced, failed int) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reconciled += int64(synced)
	m.ReconcileFailures += int64(failed)
}

// RecordSweep records items removed by the retention sweep
func (m *MemoryMetrics) RecordSweep(removed int) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Swept += int64(removed)
}

// GetMetrics returns a snapshot of the current metrics
func (m *MemoryMetrics) GetMetrics() map[string]any {
	if m == nil {
		return map[string]any{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"ingested":           m.Ingested,
		"ingest_failures":    m.IngestFailures,
		"pending_syncs":      m.PendingSyncs,
		"avg_ingest_latency": average(m.IngestLatency, m.Ingested),
		"queries":            m.Queries,
		"degraded_queries":   m.DegradedQueries,
		"vector_timeouts":    m.VectorTimeouts,
		"graph_timeouts":     m.GraphTimeouts,
		"avg_query_latency":  average(m.QueryLatency, m.Queries),
		"reconciled":         m.Reconciled,
		"reconcile_failures": m.ReconcileFailures,
		"swept":              m.Swept,
	}
}

func average(total time.Duration, count int64) float64 {
	if count == 0 {
		return 0
	}

	return total.Seconds() / float64(count)
}
