package memory

import (
	"context"
	"time"
)

/*
Embedder turns text into a vector of fixed dimensionality.
*/
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

/*
Extractor finds entities and relations in text. It is best-effort and may
return an empty Extraction.
*/
type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}

/*
Seeder derives graph seed entity names from query text.
*/
type Seeder interface {
	Seeds(text string) []string
}

/*
VectorStore persists embedded memories and answers nearest-neighbour queries
by cosine similarity. Upsert is idempotent by item ID. Unreachable backends
surface as errors.StorageUnavailable.

Pending lists up to limit items still flagged GraphSyncPending. Before lists
every item older than cutoff. Both exist so recovery and retention do not
depend on the queue or the graph being complete.
*/
type VectorStore interface {
	Upsert(ctx context.Context, item MemoryItem) error
	Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
	Get(ctx context.Context, id string) (MemoryItem, error)
	Pending(ctx context.Context, limit int) ([]MemoryItem, error)
	Before(ctx context.Context, cutoff time.Time) ([]MemoryItem, error)
	Delete(ctx context.Context, ids ...string) error
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

/*
GraphStore persists entities, relations, and the memories that mention them.
Traverse must never report an entity beyond maxHops and must terminate on
cyclic graphs.
*/
type GraphStore interface {
	UpsertEntities(ctx context.Context, entities []Entity) error
	UpsertRelations(ctx context.Context, relations []Relation) error
	LinkMemory(ctx context.Context, item MemoryItem) error
	Traverse(ctx context.Context, seeds []string, maxHops int) ([]EntityHit, error)
	Supporting(ctx context.Context, hits []EntityHit, limit int) ([]GraphHit, error)
	Memories(ctx context.Context, before time.Time) ([]MemoryItem, error)
	DeleteMemories(ctx context.Context, ids ...string) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Stats(ctx context.Context) (GraphStats, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

/*
SyncQueue holds graph writes waiting to be replayed by the reconciler.
*/
type SyncQueue interface {
	Enqueue(ctx context.Context, pending PendingSync) error
	Dequeue(ctx context.Context, max int) ([]PendingSync, error)
	Len(ctx context.Context) (int, error)
}

/*
ContextStore remembers which entities a conversation mentioned recently.
*/
type ContextStore interface {
	Recent(sessionID string) []string
	Remember(sessionID string, names ...string)
}
