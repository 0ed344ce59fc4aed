/*
Package engine assembles a running memory system from configuration: it
opens the configured stores, builds the writer, the fusion layer, the
reconciler and the retention sweeper on top of them, and schedules the
background passes.
*/
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/theapemachine/nire/pkg/config"
	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
	"github.com/theapemachine/nire/pkg/metrics"
	"github.com/theapemachine/nire/pkg/stores"
)

/*
Engine is the facade every surface (CLI, HTTP, MCP) talks to.
*/
type Engine struct {
	cfg        config.Config
	vector     memory.VectorStore
	graph      memory.GraphStore
	queue      memory.SyncQueue
	sessions   *stores.InMemorySessionStore
	writer     *memory.Writer
	fusion     *memory.Fusion
	reconciler *memory.Reconciler
	sweeper    *memory.Sweeper
	exporter   Exporter
	metrics    *metrics.MemoryMetrics
	scheduler  *cron.Cron
	closers    []func(context.Context) error
	once       sync.Once
}

/*
Stats is the operator view of the system.
*/
type Stats struct {
	VectorItems int               `json:"vector_items"`
	Graph       memory.GraphStats `json:"graph"`
	Pending     int               `json:"pending"`
	Metrics     map[string]any    `json:"metrics"`
	Errors      map[string]string `json:"errors,omitempty"`
}

/*
New opens every configured backend. On failure whatever was already opened
is closed again.
*/
func New(ctx context.Context, cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		cfg:     cfg,
		metrics: metrics.NewMemoryMetrics(),
	}

	if err := engine.open(ctx); err != nil {
		engine.Close(ctx)
		return nil, err
	}

	return engine, nil
}

func (engine *Engine) open(ctx context.Context) (err error) {
	cfg := engine.cfg

	if engine.vector, err = openVector(cfg.Vector, cfg.Embedder.Dimensions); err != nil {
		return err
	}

	engine.closers = append(engine.closers, func(context.Context) error { return engine.vector.Close() })

	if engine.graph, err = openGraph(ctx, cfg.Graph); err != nil {
		return err
	}

	engine.closers = append(engine.closers, engine.graph.Close)

	var closeQueue func() error

	if engine.queue, closeQueue, err = openQueue(ctx, cfg.Queue); err != nil {
		return err
	}

	if closeQueue != nil {
		engine.closers = append(engine.closers, func(context.Context) error { return closeQueue() })
	}

	embedder, err := newEmbedder(cfg.Embedder)

	if err != nil {
		return err
	}

	if cached, ok := embedder.(interface{ Close() }); ok {
		engine.closers = append(engine.closers, func(context.Context) error {
			cached.Close()
			return nil
		})
	}

	extractor, seeder, err := newExtractor(cfg.Extractor)

	if err != nil {
		return err
	}

	if engine.exporter, err = newExporter(cfg.Export); err != nil {
		return err
	}

	engine.sessions = stores.NewInMemorySessionStore(cfg.Session.TTL)
	engine.closers = append(engine.closers, func(context.Context) error {
		engine.sessions.Close()
		return nil
	})

	canon := memory.NewCanonicalizer(cfg.Entities.Aliases)

	engine.writer = memory.NewWriter(embedder, engine.vector, engine.graph, engine.queue,
		memory.WithExtractor(extractor),
		memory.WithWriterCanonicalizer(canon),
		memory.WithWriterContextStore(engine.sessions),
		memory.WithWriterConfig(cfg.Writer),
		memory.WithWriterMetrics(engine.metrics),
	)

	engine.fusion = memory.NewFusion(embedder, engine.vector, engine.graph,
		memory.WithSeeder(seeder),
		memory.WithCanonicalizer(canon),
		memory.WithContextStore(engine.sessions),
		memory.WithFusionConfig(cfg.Fusion),
		memory.WithFusionMetrics(engine.metrics),
	)

	if engine.reconciler, err = memory.NewReconciler(engine.vector, engine.graph, engine.queue,
		memory.WithReconcileConfig(cfg.Reconcile),
		memory.WithReconcileMetrics(engine.metrics),
		memory.WithRebuilder(engine.writer.Rebuild),
	); err != nil {
		return err
	}

	engine.closers = append(engine.closers, func(context.Context) error {
		engine.reconciler.Close()
		return nil
	})

	engine.sweeper = memory.NewSweeper(
		engine.vector, engine.graph, cfg.Retention, cfg.Fusion.ImportanceHalfLife, engine.metrics,
	)

	log.Info(
		"memory engine ready",
		"vector", cfg.Vector.Backend,
		"graph", cfg.Graph.Backend,
		"queue", cfg.Queue.Backend,
		"embedder", cfg.Embedder.Backend,
		"extractor", cfg.Extractor.Backend,
	)

	return nil
}

func (engine *Engine) Ingest(ctx context.Context, turn memory.Turn) (memory.MemoryItem, error) {
	return engine.writer.Ingest(ctx, turn)
}

func (engine *Engine) Query(ctx context.Context, query memory.Query) memory.RetrievalResult {
	return engine.fusion.Retrieve(ctx, query)
}

func (engine *Engine) Reconcile(ctx context.Context) (memory.ReconcileReport, error) {
	return engine.reconciler.RunOnce(ctx)
}

func (engine *Engine) Sweep(ctx context.Context) (int, error) {
	return engine.sweeper.Sweep(ctx)
}

/*
Stats collects counts from every store. A store that cannot answer is
reported under Errors instead of failing the whole call.
*/
func (engine *Engine) Stats(ctx context.Context) Stats {
	stats := Stats{
		Metrics: engine.metrics.GetMetrics(),
		Errors:  map[string]string{},
	}

	var err error

	if stats.VectorItems, err = engine.vector.Count(ctx); err != nil {
		stats.Errors["vector"] = err.Error()
	}

	if stats.Graph, err = engine.graph.Stats(ctx); err != nil {
		stats.Errors["graph"] = err.Error()
	}

	if stats.Pending, err = engine.queue.Len(ctx); err != nil {
		stats.Errors["queue"] = err.Error()
	}

	return stats
}

/*
Health pings both stores; the map holds one entry per store that failed.
*/
func (engine *Engine) Health(ctx context.Context) map[string]string {
	failures := map[string]string{}

	if err := engine.vector.Ping(ctx); err != nil {
		failures["vector"] = err.Error()
	}

	if err := engine.graph.Ping(ctx); err != nil {
		failures["graph"] = err.Error()
	}

	return failures
}

/*
Export snapshots the graph store and hands it to the configured exporter,
returning where it was written.
*/
func (engine *Engine) Export(ctx context.Context) (string, error) {
	snapshot, err := engine.graph.Snapshot(ctx)

	if err != nil {
		return "", fmt.Errorf("failed to snapshot graph: %w", err)
	}

	return engine.exporter.Export(ctx, snapshot)
}

/*
Start schedules the reconciliation pass and, when retention is enabled,
the sweep. A pass that is still running when its next tick arrives is
skipped.
*/
func (engine *Engine) Start(ctx context.Context) error {
	logger := cron.VerbosePrintfLogger(log.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}))
	engine.scheduler = cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := engine.scheduler.AddFunc(engine.cfg.Reconcile.Schedule, func() {
		if _, err := engine.Reconcile(ctx); err != nil {
			log.Error("reconcile pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", engine.cfg.Reconcile.Schedule, err)
	}

	if engine.cfg.Retention.MaxAge > 0 {
		if _, err := engine.scheduler.AddFunc(engine.cfg.Retention.Schedule, func() {
			if _, err := engine.Sweep(ctx); err != nil {
				log.Error("retention sweep failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid retention schedule %q: %w", engine.cfg.Retention.Schedule, err)
		}
	}

	engine.scheduler.Start()
	log.Info("background passes scheduled", "reconcile", engine.cfg.Reconcile.Schedule, "retention", engine.cfg.Retention.MaxAge)

	return nil
}

/*
Close stops the scheduler, waits for a running pass, and closes every store
in reverse order of opening.
*/
func (engine *Engine) Close(ctx context.Context) error {
	var errs []error

	engine.once.Do(func() {
		if engine.scheduler != nil {
			<-engine.scheduler.Stop().Done()
		}

		for i := len(engine.closers) - 1; i >= 0; i-- {
			if err := engine.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})

	return errors.Join(errs...)
}

/*
Get loads one memory from the vector store, embedding included.
*/
func (engine *Engine) Get(ctx context.Context, id string) (memory.MemoryItem, error) {
	return engine.vector.Get(ctx, id)
}
