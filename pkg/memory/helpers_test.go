package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/theapemachine/nire/pkg/errors"
)

var (
	testNow     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	unitVec     = []float32{1, 0}
	errStubDown = errors.Unavailable("stub", "query", errors.New("connection refused"))
)

func clock() time.Time { return testNow }

type stubEmbedder struct {
	err error
}

func (embedder stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if embedder.err != nil {
		return nil, embedder.err
	}

	return unitVec, nil
}

func (embedder stubEmbedder) Dimensions() int { return len(unitVec) }

type stubVector struct {
	hits  []VectorHit
	err   error
	block bool
}

func (vector *stubVector) Upsert(ctx context.Context, item MemoryItem) error { return vector.err }

func (vector *stubVector) Query(ctx context.Context, embedding []float32, k int) ([]VectorHit, error) {
	if vector.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if vector.err != nil {
		return nil, vector.err
	}

	hits := append([]VectorHit(nil), vector.hits...)

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

func (vector *stubVector) Get(ctx context.Context, id string) (MemoryItem, error) {
	return MemoryItem{}, errors.ErrNotFound
}

func (vector *stubVector) Pending(ctx context.Context, limit int) ([]MemoryItem, error) {
	return nil, vector.err
}

func (vector *stubVector) Before(ctx context.Context, cutoff time.Time) ([]MemoryItem, error) {
	return nil, vector.err
}

func (vector *stubVector) Delete(ctx context.Context, ids ...string) error { return nil }
func (vector *stubVector) Count(ctx context.Context) (int, error)         { return len(vector.hits), nil }
func (vector *stubVector) Ping(ctx context.Context) error                 { return vector.err }
func (vector *stubVector) Close() error                                   { return nil }

type stubGraph struct {
	entities  []EntityHit
	support   []GraphHit
	err       error
	traversed atomic.Int32
	seeds     []string
}

func (graph *stubGraph) UpsertEntities(ctx context.Context, entities []Entity) error { return graph.err }
func (graph *stubGraph) UpsertRelations(ctx context.Context, relations []Relation) error {
	return graph.err
}
func (graph *stubGraph) LinkMemory(ctx context.Context, item MemoryItem) error { return graph.err }

func (graph *stubGraph) Traverse(ctx context.Context, seeds []string, maxHops int) ([]EntityHit, error) {
	graph.traversed.Add(1)
	graph.seeds = seeds

	if graph.err != nil {
		return nil, graph.err
	}

	return graph.entities, nil
}

func (graph *stubGraph) Supporting(ctx context.Context, hits []EntityHit, limit int) ([]GraphHit, error) {
	return graph.support, graph.err
}

func (graph *stubGraph) Memories(ctx context.Context, before time.Time) ([]MemoryItem, error) {
	return nil, graph.err
}

func (graph *stubGraph) DeleteMemories(ctx context.Context, ids ...string) error { return graph.err }
func (graph *stubGraph) Snapshot(ctx context.Context) (Snapshot, error)        { return Snapshot{}, graph.err }
func (graph *stubGraph) Stats(ctx context.Context) (GraphStats, error)         { return GraphStats{}, graph.err }
func (graph *stubGraph) Ping(ctx context.Context) error                        { return graph.err }
func (graph *stubGraph) Close(ctx context.Context) error                       { return nil }

type seederFunc func(string) []string

func (fn seederFunc) Seeds(text string) []string { return fn(text) }

type stubSessions map[string][]string

func (sessions stubSessions) Recent(id string) []string          { return sessions[id] }
func (sessions stubSessions) Remember(id string, names ...string) {}

func memoryAt(id string, at time.Time, text string) MemoryItem {
	return MemoryItem{ID: id, Text: text, Timestamp: at, Embedding: unitVec, Importance: 0.5}
}
