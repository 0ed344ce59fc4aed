package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/metrics"
)

/*
Reconciler drains the sync queue and replays graph writes that failed during
ingest. Items that sync get their GraphSyncPending flag cleared in the vector
store; items that still fail go back on the queue.

The vector flag is authoritative. Once the queue is drained, flagged items
the queue no longer holds (lost with an in-memory queue, popped by a pass
that crashed, or never enqueued) are rebuilt from the stored item.
*/
type Reconciler struct {
	vector  VectorStore
	graph   GraphStore
	queue   SyncQueue
	config  ReconcileConfig
	metrics *metrics.MemoryMetrics
	pool    *ants.Pool
	rebuild func(context.Context, MemoryItem) PendingSync
}

type ReconcilerOption func(*Reconciler)

/*
ReconcileReport summarizes one pass.
*/
type ReconcileReport struct {
	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Requeued  int `json:"requeued"`
}

func NewReconciler(
	vector VectorStore, graph GraphStore, queue SyncQueue, options ...ReconcilerOption,
) (*Reconciler, error) {
	reconciler := &Reconciler{
		vector:  vector,
		graph:   graph,
		queue:   queue,
		config:  DefaultReconcileConfig(),
		rebuild: linkStoredEntities,
	}

	for _, option := range options {
		option(reconciler)
	}

	workers := reconciler.config.Workers
	if workers < 1 {
		workers = 1
	}

	pool, err := ants.NewPool(workers)

	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile pool: %w", err)
	}

	reconciler.pool = pool

	return reconciler, nil
}

/*
RunOnce takes one batch off the queue and syncs it on the worker pool. When
the queue had fewer than a full batch, the rest of the batch is filled with
flagged items from the vector store.
*/
func (reconciler *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "memory.Reconcile")
	defer span.End()

	var report ReconcileReport

	batch, err := reconciler.queue.Dequeue(ctx, reconciler.config.Batch)

	if err != nil {
		return report, fmt.Errorf("failed to dequeue pending syncs: %w", err)
	}

	batch = append(batch, reconciler.orphans(ctx, batch)...)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, pending := range batch {
		wg.Add(1)

		task := func() {
			defer wg.Done()

			synced := reconciler.sync(ctx, pending)

			mu.Lock()
			defer mu.Unlock()

			report.Attempted++
			if synced {
				report.Synced++
			} else {
				report.Requeued++
			}
		}

		if err := reconciler.pool.Submit(task); err != nil {
			log.Warn("reconcile pool rejected task, running inline", "error", err)
			task()
		}
	}

	wg.Wait()

	reconciler.metrics.RecordReconcile(report.Synced, report.Requeued)

	span.SetAttributes(
		attribute.Int("memory.attempted", report.Attempted),
		attribute.Int("memory.synced", report.Synced),
		attribute.Int("memory.requeued", report.Requeued),
	)

	if report.Attempted > 0 {
		log.Info("reconcile pass finished", "attempted", report.Attempted, "synced", report.Synced, "requeued", report.Requeued)
	}

	return report, nil
}

func linkStoredEntities(ctx context.Context, item MemoryItem) PendingSync {
	return PendingSync{Item: item, Entities: conceptEntities(item.Entities, item.Timestamp, nil)}
}

func (reconciler *Reconciler) orphans(ctx context.Context, queued []PendingSync) []PendingSync {
	room := reconciler.config.Batch - len(queued)

	if room <= 0 {
		return nil
	}

	flagged, err := reconciler.vector.Pending(ctx, room+len(queued))

	if err != nil {
		log.Warn("could not list flagged memories", "error", err)
		return nil
	}

	seen := make(map[string]struct{}, len(queued))
	for _, pending := range queued {
		seen[pending.Item.ID] = struct{}{}
	}

	var out []PendingSync

	for _, item := range flagged {
		if _, ok := seen[item.ID]; ok || len(out) == room {
			continue
		}

		log.Debug("rebuilding graph sync from vector store", "id", item.ID)
		out = append(out, reconciler.rebuild(ctx, item))
	}

	return out
}

func (reconciler *Reconciler) sync(ctx context.Context, pending PendingSync) bool {
	err := errors.Retry(ctx, reconciler.config.Retry, func() error {
		return SyncGraph(ctx, reconciler.graph, pending)
	})

	if err == nil {
		pending.Item.GraphSyncPending = false

		if err = reconciler.vector.Upsert(ctx, pending.Item); err == nil {
			return true
		}

		err = fmt.Errorf("graph synced but pending flag not cleared: %w", err)
	}

	pending.Attempts++
	pending.LastError = err.Error()
	pending.Item.GraphSyncPending = true

	log.Warn("graph sync still pending", "id", pending.Item.ID, "attempts", pending.Attempts, "error", err)

	if qerr := reconciler.queue.Enqueue(ctx, pending); qerr != nil {
		log.Error("failed to requeue graph sync", "id", pending.Item.ID, "error", qerr)
	}

	return false
}

/*
Close releases the worker pool.
*/
func (reconciler *Reconciler) Close() {
	reconciler.pool.Release()
}

func WithReconcileConfig(config ReconcileConfig) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.config = config
	}
}

/*
WithRebuilder sets how a flagged item found only in the vector store is
turned back into a graph write. The default links the item to bare concept
entities named after its Entities.
*/
func WithRebuilder(rebuild func(context.Context, MemoryItem) PendingSync) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.rebuild = rebuild
	}
}

func WithReconcileMetrics(m *metrics.MemoryMetrics) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.metrics = m
	}
}
