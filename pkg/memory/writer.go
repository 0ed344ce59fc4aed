package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/metrics"
)

/*
Writer turns conversational turns into memories. The vector write comes
first and decides whether the turn is kept; the graph write follows, and when
it fails the item stays in the vector store flagged GraphSyncPending while
the graph write waits on the sync queue for the reconciler.
*/
type Writer struct {
	embedder  Embedder
	extractor Extractor
	vector    VectorStore
	graph     GraphStore
	queue     SyncQueue
	canon     *Canonicalizer
	sessions  ContextStore
	ids       *IDGenerator
	config    WriterConfig
	metrics   *metrics.MemoryMetrics
	now       func() time.Time
}

type WriterOption func(*Writer)

func NewWriter(
	embedder Embedder, vector VectorStore, graph GraphStore, queue SyncQueue, options ...WriterOption,
) *Writer {
	writer := &Writer{
		embedder: embedder,
		vector:   vector,
		graph:    graph,
		queue:    queue,
		canon:    NewCanonicalizer(nil),
		config:   DefaultWriterConfig(),
		now:      time.Now,
	}

	for _, option := range options {
		option(writer)
	}

	if writer.ids == nil {
		writer.ids = NewIDGenerator(writer.config.IDPrefix)
	}

	return writer
}

/*
Ingest stores turn and returns the new item. Any error is an
*errors.IngestError and means nothing was stored.
*/
func (writer *Writer) Ingest(ctx context.Context, turn Turn) (MemoryItem, error) {
	ctx, span := tracer.Start(ctx, "memory.Ingest")
	defer span.End()

	started := writer.now()
	item, err := writer.ingest(ctx, turn)
	writer.metrics.RecordIngest(err == nil, item.GraphSyncPending, writer.now().Sub(started))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return item, err
	}

	span.SetAttributes(
		attribute.String("memory.id", item.ID),
		attribute.Int("memory.entities", len(item.Entities)),
		attribute.Bool("memory.graph_sync_pending", item.GraphSyncPending),
	)

	return item, nil
}

func (writer *Writer) ingest(ctx context.Context, turn Turn) (MemoryItem, error) {
	text := strings.TrimSpace(turn.Text)

	if text == "" {
		return MemoryItem{}, &errors.IngestError{Stage: errors.StageValidate, Err: errors.ErrEmptyTurn}
	}

	timestamp := turn.Timestamp
	if timestamp.IsZero() {
		timestamp = writer.now()
	}
	timestamp = timestamp.UTC()

	extraction := writer.extract(ctx, text)

	embedding, err := writer.embed(ctx, text)

	if err != nil {
		return MemoryItem{}, &errors.IngestError{Stage: errors.StageEmbed, Err: err}
	}

	id, err := writer.ids.Next()

	if err != nil {
		return MemoryItem{}, &errors.IngestError{Stage: errors.StageVector, Err: err}
	}

	entities, relations := writer.graphWrite(extraction, id, timestamp)

	names := make([]string, 0, len(entities))
	for _, entity := range entities {
		names = append(names, entity.Name)
	}

	item := MemoryItem{
		ID:         id,
		Text:       text,
		Embedding:  embedding,
		Timestamp:  timestamp,
		Importance: writer.importance(turn, extraction),
		Entities:   names,
		Category:   extraction.Category,
		SessionID:  turn.SessionID,
		Role:       turn.Role,
		Metadata:   turn.Metadata,
	}

	if item.Category == "" {
		item.Category = CategoryContext
	}

	if err := errors.Retry(ctx, writer.config.Retry, func() error {
		if writer.vector == nil {
			return errNoStore
		}

		return writer.vector.Upsert(ctx, item)
	}); err != nil {
		return MemoryItem{}, &errors.IngestError{Stage: errors.StageVector, ItemID: id, Err: err}
	}

	pending := PendingSync{
		Item:      item,
		Entities:  entities,
		Relations: relations,
	}

	if err := SyncGraph(ctx, writer.graph, pending); err != nil {
		item = writer.markPending(ctx, pending, err)
	}

	if writer.sessions != nil && turn.SessionID != "" {
		writer.sessions.Remember(turn.SessionID, item.Entities...)
	}

	return item, nil
}

/*
Rebuild reconstructs the graph write for an item that only the vector store
still knows about, by extracting its text again. Entity names the item
already carries are kept even when the extractor no longer finds them.
*/
func (writer *Writer) Rebuild(ctx context.Context, item MemoryItem) PendingSync {
	entities, relations := writer.graphWrite(writer.extract(ctx, item.Text), item.ID, item.Timestamp)

	var names []string
	for _, entity := range entities {
		names = append(names, entity.Name)
	}

	item.Entities = union(item.Entities, names)
	entities = append(entities, conceptEntities(item.Entities, item.Timestamp, names)...)

	return PendingSync{Item: item, Entities: entities, Relations: relations}
}

func (writer *Writer) graphWrite(extraction Extraction, id string, at time.Time) ([]Entity, []Relation) {
	relations := writer.canon.Relations(extraction.Relations)

	for i := range relations {
		relations[i].MemoryIDs = union(relations[i].MemoryIDs, []string{id})
	}

	return writer.entities(extraction.Entities, relations, at), relations
}

/*
conceptEntities builds bare entities for names not in skip.
*/
func conceptEntities(names []string, at time.Time, skip []string) []Entity {
	var entities []Entity

	for _, name := range names {
		if name == "" || slices.Contains(skip, name) {
			continue
		}

		entities = append(entities, Entity{
			Name:           name,
			Display:        name,
			Type:           EntityConcept,
			FirstSeen:      at,
			LastReferenced: at,
			Mentions:       1,
		})
	}

	return entities
}

func (writer *Writer) extract(ctx context.Context, text string) Extraction {
	if writer.extractor == nil {
		return Extraction{}
	}

	extraction, err := writer.extractor.Extract(ctx, text)

	if err != nil {
		log.Warn("extraction failed, storing without entities", "error", err)
		return Extraction{}
	}

	return extraction
}

func (writer *Writer) embed(ctx context.Context, text string) ([]float32, error) {
	embedding, err := writer.embedder.Embed(ctx, text)

	if err != nil {
		return nil, &errors.EmbeddingError{Err: err}
	}

	if len(embedding) == 0 {
		return nil, &errors.EmbeddingError{Err: errors.ErrMissingEmbedding}
	}

	if dims := writer.embedder.Dimensions(); dims > 0 && len(embedding) != dims {
		return nil, &errors.EmbeddingError{
			Err: fmt.Errorf("%w: got %d, want %d", errors.ErrDimensionMismatch, len(embedding), dims),
		}
	}

	return embedding, nil
}

/*
entities canonicalizes the extracted entities, stamps them with the turn
time, and adds any relation endpoint the extractor did not list, so every
relation written afterwards has both ends in the graph.
*/
func (writer *Writer) entities(extracted []Entity, relations []Relation, at time.Time) []Entity {
	entities := writer.canon.Entities(extracted)
	known := make(map[string]struct{}, len(entities))

	for i := range entities {
		known[entities[i].Name] = struct{}{}

		if entities[i].Type == "" {
			entities[i].Type = EntityConcept
		}

		if entities[i].FirstSeen.IsZero() {
			entities[i].FirstSeen = at
		}

		if entities[i].LastReferenced.Before(at) {
			entities[i].LastReferenced = at
		}

		if entities[i].Mentions == 0 {
			entities[i].Mentions = 1
		}
	}

	for _, relation := range relations {
		for _, name := range []string{relation.Source, relation.Target} {
			if _, ok := known[name]; ok {
				continue
			}

			known[name] = struct{}{}
			entities = append(entities, Entity{
				Name:           name,
				Display:        name,
				Type:           EntityConcept,
				FirstSeen:      at,
				LastReferenced: at,
				Mentions:       1,
			})
		}
	}

	return entities
}

func (writer *Writer) importance(turn Turn, extraction Extraction) float64 {
	switch {
	case turn.Importance > 0:
		return clamp(turn.Importance)
	case extraction.Importance > 0:
		return clamp(extraction.Importance)
	}

	return writer.config.DefaultImportance
}

func (writer *Writer) markPending(ctx context.Context, pending PendingSync, cause error) MemoryItem {
	pending.Item.GraphSyncPending = true
	pending.Attempts = 1
	pending.LastError = cause.Error()
	pending.QueuedAt = writer.now().UTC()

	if err := writer.vector.Upsert(ctx, pending.Item); err != nil {
		log.Error("failed to flag memory as graph_sync_pending", "id", pending.Item.ID, "error", err)
	}

	if writer.queue == nil {
		log.Error("no sync queue configured, graph write dropped", "id", pending.Item.ID)
	} else if err := writer.queue.Enqueue(ctx, pending); err != nil {
		log.Error("failed to enqueue graph sync", "id", pending.Item.ID, "error", err)
	}

	log.Warn(
		"memory stored without graph",
		"warning", &errors.InconsistencyWarning{ItemID: pending.Item.ID, Err: cause},
	)

	return pending.Item
}

/*
SyncGraph replays the graph half of an ingest: entities, then relations, then
the memory node. Every step is an upsert, so replaying is safe.
*/
func SyncGraph(ctx context.Context, graph GraphStore, pending PendingSync) error {
	if graph == nil {
		return errNoStore
	}

	if len(pending.Entities) > 0 {
		if err := graph.UpsertEntities(ctx, pending.Entities); err != nil {
			return fmt.Errorf("failed to upsert entities: %w", err)
		}
	}

	if len(pending.Relations) > 0 {
		if err := graph.UpsertRelations(ctx, pending.Relations); err != nil {
			return fmt.Errorf("failed to upsert relations: %w", err)
		}
	}

	if err := graph.LinkMemory(ctx, pending.Item); err != nil {
		return fmt.Errorf("failed to link memory: %w", err)
	}

	return nil
}

func WithExtractor(extractor Extractor) WriterOption {
	return func(writer *Writer) {
		writer.extractor = extractor
	}
}

func WithWriterCanonicalizer(canon *Canonicalizer) WriterOption {
	return func(writer *Writer) {
		writer.canon = canon
	}
}

func WithWriterContextStore(sessions ContextStore) WriterOption {
	return func(writer *Writer) {
		writer.sessions = sessions
	}
}

func WithWriterConfig(config WriterConfig) WriterOption {
	return func(writer *Writer) {
		writer.config = config
	}
}

func WithWriterMetrics(m *metrics.MemoryMetrics) WriterOption {
	return func(writer *Writer) {
		writer.metrics = m
	}
}

func WithWriterClock(now func() time.Time) WriterOption {
	return func(writer *Writer) {
		writer.now = now
	}
}
