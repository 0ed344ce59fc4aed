package memory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theapemachine/nire/pkg/embed"
	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/extract"
	"github.com/theapemachine/nire/pkg/memory"
	"github.com/theapemachine/nire/pkg/metrics"
	"github.com/theapemachine/nire/pkg/stores/chromem"
	"github.com/theapemachine/nire/pkg/stores/memgraph"
)

var fastRetry = errors.RetryConfig{
	MaxAttempts:   2,
	InitialDelay:  time.Millisecond,
	MaxDelay:      time.Millisecond,
	BackoffFactor: 2,
}

// flakyGraph is an in-memory graph that can be switched off.
type flakyGraph struct {
	*memgraph.Store
	down atomic.Bool
}

func (graph *flakyGraph) fail(op string) error {
	if graph.down.Load() {
		return errors.Unavailable("flaky", op, errors.New("connection refused"))
	}

	return nil
}

func (graph *flakyGraph) UpsertEntities(ctx context.Context, entities []memory.Entity) error {
	if err := graph.fail("upsert entities"); err != nil {
		return err
	}

	return graph.Store.UpsertEntities(ctx, entities)
}

func (graph *flakyGraph) UpsertRelations(ctx context.Context, relations []memory.Relation) error {
	if err := graph.fail("upsert relations"); err != nil {
		return err
	}

	return graph.Store.UpsertRelations(ctx, relations)
}

func (graph *flakyGraph) LinkMemory(ctx context.Context, item memory.MemoryItem) error {
	if err := graph.fail("link memory"); err != nil {
		return err
	}

	return graph.Store.LinkMemory(ctx, item)
}

func (graph *flakyGraph) Traverse(ctx context.Context, seeds []string, maxHops int) ([]memory.EntityHit, error) {
	if err := graph.fail("traverse"); err != nil {
		return nil, err
	}

	return graph.Store.Traverse(ctx, seeds, maxHops)
}

// downVector is a vector store whose server is gone.
type downVector struct{}

func (downVector) Upsert(ctx context.Context, item memory.MemoryItem) error {
	return errors.Unavailable("down", "upsert", errors.New("connection refused"))
}

func (downVector) Query(ctx context.Context, vector []float32, k int) ([]memory.VectorHit, error) {
	return nil, errors.Unavailable("down", "query", errors.New("connection refused"))
}

func (downVector) Get(ctx context.Context, id string) (memory.MemoryItem, error) {
	return memory.MemoryItem{}, errors.Unavailable("down", "get", errors.New("connection refused"))
}

func (downVector) Delete(ctx context.Context, ids ...string) error {
	return errors.Unavailable("down", "delete", errors.New("connection refused"))
}

func (downVector) Pending(ctx context.Context, limit int) ([]memory.MemoryItem, error) {
	return nil, errors.Unavailable("down", "pending", errors.New("connection refused"))
}

func (downVector) Before(ctx context.Context, cutoff time.Time) ([]memory.MemoryItem, error) {
	return nil, errors.Unavailable("down", "before", errors.New("connection refused"))
}

func (downVector) Count(ctx context.Context) (int, error) { return 0, nil }
func (downVector) Ping(ctx context.Context) error         { return errors.New("down") }
func (downVector) Close() error                           { return nil }

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) Dimensions() int { return 64 }

// lyingEmbedder claims more dimensions than it produces.
type lyingEmbedder struct {
	*embed.Hash
}

func (lyingEmbedder) Dimensions() int { return 128 }

type fixture struct {
	vector    *chromem.Store
	graph     *flakyGraph
	queue     *memory.MemoryQueue
	embedder  memory.Embedder
	extractor *extract.Heuristic
	metrics   *metrics.MemoryMetrics
}

func newFixture(t *testing.T) *fixture {
	vector, err := chromem.New("", "test", 64)

	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		vector:    vector,
		graph:     &flakyGraph{Store: memgraph.New()},
		queue:     memory.NewMemoryQueue(),
		embedder:  embed.NewHash(64),
		extractor: extract.NewHeuristic(),
		metrics:   metrics.NewMemoryMetrics(),
	}
}

func (fx *fixture) writer(options ...memory.WriterOption) *memory.Writer {
	config := memory.DefaultWriterConfig()
	config.Retry = fastRetry

	return memory.NewWriter(fx.embedder, fx.vector, fx.graph, fx.queue, append([]memory.WriterOption{
		memory.WithExtractor(fx.extractor),
		memory.WithWriterConfig(config),
		memory.WithWriterMetrics(fx.metrics),
	}, options...)...)
}

func (fx *fixture) fusion(options ...memory.FusionOption) *memory.Fusion {
	return memory.NewFusion(fx.embedder, fx.vector, fx.graph, append([]memory.FusionOption{
		memory.WithSeeder(fx.extractor),
		memory.WithFusionMetrics(fx.metrics),
	}, options...)...)
}

func (fx *fixture) reconciler(t *testing.T, options ...memory.ReconcilerOption) *memory.Reconciler {
	config := memory.DefaultReconcileConfig()
	config.Retry = fastRetry
	config.Workers = 2

	reconciler, err := memory.NewReconciler(fx.vector, fx.graph, fx.queue, append([]memory.ReconcilerOption{
		memory.WithReconcileConfig(config),
		memory.WithReconcileMetrics(fx.metrics),
	}, options...)...)

	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(reconciler.Close)

	return reconciler
}
