/*
Package chromem is the embedded vector store, backed by chromem-go. It keeps
one collection, in memory or persisted to a directory, and needs no server.
*/
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/memory"
)

const (
	storeName    = "chromem"
	metaPrefix   = "meta."
	keyTimestamp = "timestamp"
	keyImport    = "importance"
	keyEntities  = "entities"
	keyCategory  = "category"
	keySession   = "session_id"
	keyRole      = "role"
	keyPending   = "graph_sync_pending"
)

/*
Store implements memory.VectorStore on a chromem-go collection.

chromem-go has no way to list documents, so Pending and Before run a
filtered query with a neutral vector. That needs the dimensionality, which
comes from New or is learned from the first upsert.
*/
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimensions atomic.Int64
	size       func() int
}

/*
New opens the store. An empty path keeps everything in memory. dimensions
may be zero when the embedder does not know its own yet.
*/
func New(path, collection string, dimensions int) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)

	if path == "" {
		db = chromem.NewDB()
	} else if db, err = chromem.NewPersistentDB(path, false); err != nil {
		return nil, errors.Unavailable(storeName, "open", err)
	}

	if collection == "" {
		collection = "memories"
	}

	// No embedding func: callers always provide embeddings. Default distance is cosine.
	col, err := db.GetOrCreateCollection(collection, nil, nil)

	if err != nil {
		return nil, errors.Unavailable(storeName, "open", fmt.Errorf("create collection: %w", err))
	}

	store := &Store{db: db, collection: col, size: col.Count}
	store.dimensions.Store(int64(dimensions))

	return store, nil
}

func (store *Store) Upsert(ctx context.Context, item memory.MemoryItem) error {
	if len(item.Embedding) == 0 {
		return fmt.Errorf("%w: %s", errors.ErrMissingEmbedding, item.ID)
	}

	metadata, err := serialize(item)

	if err != nil {
		return fmt.Errorf("serialize memory: %w", err)
	}

	if err := store.collection.AddDocument(ctx, chromem.Document{
		ID:        item.ID,
		Content:   item.Text,
		Embedding: item.Embedding,
		Metadata:  metadata,
	}); err != nil {
		return errors.Unavailable(storeName, "upsert", err)
	}

	store.dimensions.CompareAndSwap(0, int64(len(item.Embedding)))

	return nil
}

func (store *Store) Query(ctx context.Context, vector []float32, k int) ([]memory.VectorHit, error) {
	results, err := store.search(ctx, vector, k, nil)

	if err != nil {
		return nil, errors.Unavailable(storeName, "query", err)
	}

	hits := make([]memory.VectorHit, 0, len(results))

	for _, result := range results {
		item, ok := decode(result)

		if !ok {
			continue
		}

		hits = append(hits, memory.VectorHit{Item: item, Similarity: float64(result.Similarity)})
	}

	return hits, nil
}

func (store *Store) Pending(ctx context.Context, limit int) ([]memory.MemoryItem, error) {
	neutral := store.neutral()

	if neutral == nil || limit <= 0 {
		return nil, nil
	}

	results, err := store.search(ctx, neutral, limit, map[string]string{keyPending: strconv.FormatBool(true)})

	if err != nil {
		return nil, errors.Unavailable(storeName, "pending", err)
	}

	return decodeAll(results), nil
}

/*
Before reads the whole collection; timestamps are strings in chromem
metadata and cannot be range filtered.
*/
func (store *Store) Before(ctx context.Context, cutoff time.Time) ([]memory.MemoryItem, error) {
	neutral := store.neutral()

	if neutral == nil {
		return nil, nil
	}

	results, err := store.search(ctx, neutral, math.MaxInt, nil)

	if err != nil {
		return nil, errors.Unavailable(storeName, "before", err)
	}

	var out []memory.MemoryItem

	for _, item := range decodeAll(results) {
		if item.Timestamp.Before(cutoff) {
			out = append(out, item)
		}
	}

	return out, nil
}

/*
search clamps k to the collection size, which chromem requires. A delete
landing between the count and the query shrinks the collection under us,
so that one error is retried once with a fresh count.
*/
func (store *Store) search(
	ctx context.Context, vector []float32, k int, where map[string]string,
) ([]chromem.Result, error) {
	for attempt := 0; ; attempt++ {
		n := min(k, store.size())

		if n <= 0 {
			return nil, nil
		}

		results, err := store.collection.QueryEmbedding(ctx, vector, n, where, nil)

		if err != nil && attempt == 0 && strings.Contains(err.Error(), "nResults must be") {
			continue
		}

		return results, err
	}
}

/*
neutral is a unit vector that weighs every dimension equally, used where
the query only filters and ranking does not matter.
*/
func (store *Store) neutral() []float32 {
	dimensions := int(store.dimensions.Load())

	if dimensions <= 0 {
		if store.size() > 0 {
			log.Debug("vector dimensions unknown until the next upsert", "store", storeName)
		}

		return nil
	}

	vector := make([]float32, dimensions)
	value := float32(1 / math.Sqrt(float64(dimensions)))

	for i := range vector {
		vector[i] = value
	}

	return vector
}

func decode(result chromem.Result) (memory.MemoryItem, bool) {
	if len(result.Embedding) == 0 {
		return memory.MemoryItem{}, false
	}

	item, err := deserialize(result.ID, result.Content, result.Embedding, result.Metadata)

	if err != nil {
		log.Warn("skipping unreadable memory", "id", result.ID, "error", err)
		return memory.MemoryItem{}, false
	}

	return item, true
}

func decodeAll(results []chromem.Result) []memory.MemoryItem {
	items := make([]memory.MemoryItem, 0, len(results))

	for _, result := range results {
		if item, ok := decode(result); ok {
			items = append(items, item)
		}
	}

	return items
}

func (store *Store) Get(ctx context.Context, id string) (memory.MemoryItem, error) {
	doc, err := store.collection.GetByID(ctx, id)

	if err != nil {
		return memory.MemoryItem{}, fmt.Errorf("%w: %s", errors.ErrNotFound, id)
	}

	return deserialize(doc.ID, doc.Content, doc.Embedding, doc.Metadata)
}

func (store *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := store.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return errors.Unavailable(storeName, "delete", err)
	}

	return nil
}

func (store *Store) Count(ctx context.Context) (int, error) {
	return store.collection.Count(), nil
}

func (store *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (store *Store) Close() error {
	return nil
}

func serialize(item memory.MemoryItem) (map[string]string, error) {
	entities, err := json.Marshal(item.Entities)

	if err != nil {
		return nil, err
	}

	metadata := map[string]string{
		keyTimestamp: item.Timestamp.UTC().Format(time.RFC3339Nano),
		keyImport:    strconv.FormatFloat(item.Importance, 'f', -1, 64),
		keyEntities:  string(entities),
		keyCategory:  item.Category,
		keySession:   item.SessionID,
		keyRole:      item.Role,
		keyPending:   strconv.FormatBool(item.GraphSyncPending),
	}

	for k, v := range item.Metadata {
		metadata[metaPrefix+k] = v
	}

	return metadata, nil
}

func deserialize(id, content string, embedding []float32, metadata map[string]string) (memory.MemoryItem, error) {
	timestamp, err := time.Parse(time.RFC3339Nano, metadata[keyTimestamp])

	if err != nil {
		return memory.MemoryItem{}, fmt.Errorf("parse timestamp: %w", err)
	}

	item := memory.MemoryItem{
		ID:        id,
		Text:      content,
		Embedding: embedding,
		Timestamp: timestamp,
		Category:  metadata[keyCategory],
		SessionID: metadata[keySession],
		Role:      metadata[keyRole],
	}

	item.Importance, _ = strconv.ParseFloat(metadata[keyImport], 64)
	item.GraphSyncPending, _ = strconv.ParseBool(metadata[keyPending])

	if raw := metadata[keyEntities]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &item.Entities); err != nil {
			return memory.MemoryItem{}, fmt.Errorf("parse entities: %w", err)
		}
	}

	for k, v := range metadata {
		if name, ok := strings.CutPrefix(k, metaPrefix); ok {
			if item.Metadata == nil {
				item.Metadata = make(map[string]string)
			}

			item.Metadata[name] = v
		}
	}

	return item, nil
}
