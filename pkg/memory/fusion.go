package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/theapemachine/nire/pkg/errors"
	"github.com/theapemachine/nire/pkg/metrics"
)

var errNoStore = errors.New("store not configured")

/*
Fusion answers a query by running a vector search and a graph traversal side
by side and ranking their union with

	score = alpha*max(0, cosine) + beta*1/(1+hops) + gamma*0.5^(age/halfLife)

An item found by both paths appears once with both terms. A branch that
fails or runs out of time contributes nothing; the query itself never fails.
*/
type Fusion struct {
	embedder Embedder
	vector   VectorStore
	graph    GraphStore
	seeder   Seeder
	canon    *Canonicalizer
	sessions ContextStore
	config   FusionConfig
	metrics  *metrics.MemoryMetrics
	now      func() time.Time
}

type FusionOption func(*Fusion)

func NewFusion(
	embedder Embedder, vector VectorStore, graph GraphStore, options ...FusionOption,
) *Fusion {
	fusion := &Fusion{
		embedder: embedder,
		vector:   vector,
		graph:    graph,
		canon:    NewCanonicalizer(nil),
		config:   DefaultFusionConfig(),
		now:      time.Now,
	}

	for _, option := range options {
		option(fusion)
	}

	return fusion
}

/*
Retrieve returns the fused, ranked and budgeted context for query.
*/
func (fusion *Fusion) Retrieve(ctx context.Context, query Query) RetrievalResult {
	ctx, span := tracer.Start(ctx, "memory.Retrieve")
	defer span.End()

	started := fusion.now()
	result := RetrievalResult{
		Items: []ScoredItem{},
		Seeds: fusion.seeds(query),
	}

	var (
		wg         sync.WaitGroup
		vectorHits []VectorHit
		graphHits  []GraphHit
		vectorErr  error
		graphErr   error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = within(ctx, fusion.config.VectorTimeout, func(ctx context.Context) ([]VectorHit, error) {
			return fusion.vectorBranch(ctx, query.Text)
		})
	}()

	if len(result.Seeds) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			graphHits, graphErr = within(ctx, fusion.config.GraphTimeout, func(ctx context.Context) ([]GraphHit, error) {
				return fusion.graphBranch(ctx, result.Seeds)
			})
		}()
	} else {
		result.GraphSkipped = true
	}

	wg.Wait()

	if vectorErr != nil {
		result.VectorUnavailable = true
		log.Warn("vector branch contributed nothing", "error", vectorErr)
	}

	if graphErr != nil {
		result.GraphUnavailable = true
		log.Warn("graph branch contributed nothing", "error", graphErr)
	}

	result.Degraded = result.VectorUnavailable && (result.GraphUnavailable || result.GraphSkipped)
	result.Items = fusion.truncate(fusion.rank(vectorHits, graphHits), query.Budget)

	fusion.metrics.RecordQuery(
		result.Degraded,
		errors.Is(vectorErr, context.DeadlineExceeded),
		errors.Is(graphErr, context.DeadlineExceeded),
		fusion.now().Sub(started),
	)

	span.SetAttributes(
		attribute.Int("memory.seeds", len(result.Seeds)),
		attribute.Int("memory.vector_hits", len(vectorHits)),
		attribute.Int("memory.graph_hits", len(graphHits)),
		attribute.Int("memory.results", len(result.Items)),
		attribute.Bool("memory.degraded", result.Degraded),
	)

	return result
}

func (fusion *Fusion) vectorBranch(ctx context.Context, text string) ([]VectorHit, error) {
	if fusion.vector == nil || fusion.embedder == nil {
		return nil, errNoStore
	}

	embedding, err := fusion.embedder.Embed(ctx, text)

	if err != nil {
		return nil, &errors.EmbeddingError{Err: err}
	}

	hits, err := fusion.vector.Query(ctx, embedding, fusion.config.VectorK)

	if err != nil {
		return nil, err
	}

	out := hits[:0]

	for _, hit := range hits {
		if len(hit.Item.Embedding) == 0 {
			continue
		}

		out = append(out, hit)
	}

	return out, nil
}

func (fusion *Fusion) graphBranch(ctx context.Context, seeds []string) ([]GraphHit, error) {
	if fusion.graph == nil {
		return nil, errNoStore
	}

	entities, err := fusion.graph.Traverse(ctx, seeds, fusion.config.MaxHops)

	if err != nil {
		return nil, err
	}

	if len(entities) == 0 {
		return nil, nil
	}

	return fusion.graph.Supporting(ctx, entities, fusion.config.GraphK)
}

func (fusion *Fusion) seeds(query Query) []string {
	var raw []string

	if fusion.seeder != nil {
		raw = append(raw, fusion.seeder.Seeds(query.Text)...)
	}

	raw = append(raw, query.Context...)

	if fusion.sessions != nil && query.SessionID != "" {
		raw = append(raw, fusion.sessions.Recent(query.SessionID)...)
	}

	return fusion.canon.Names(raw)
}

/*
rank merges both hit lists by item ID and sorts them. Vector hits go first so
the merged item keeps the vector store's copy, which carries the embedding.
*/
func (fusion *Fusion) rank(vectorHits []VectorHit, graphHits []GraphHit) []ScoredItem {
	merged := make(map[string]*ScoredItem, len(vectorHits)+len(graphHits))

	entry := func(item MemoryItem) *ScoredItem {
		if scored, ok := merged[item.ID]; ok {
			return scored
		}

		scored := &ScoredItem{Item: item}
		merged[item.ID] = scored

		return scored
	}

	for _, hit := range vectorHits {
		scored := entry(hit.Item)
		similarity := clamp(hit.Similarity)

		if similarity > scored.Similarity {
			scored.Similarity = similarity
		}

		scored.Sources |= SourceVector
	}

	for _, hit := range graphHits {
		scored := entry(hit.Item)
		proximity := 1 / (1 + float64(max(hit.Hops, 0)))

		if proximity > scored.Proximity {
			scored.Proximity = proximity
		}

		scored.Sources |= SourceGraph
	}

	now := fusion.now()
	items := make([]ScoredItem, 0, len(merged))

	for _, scored := range merged {
		scored.Recency = HalfLife(now.Sub(scored.Item.Timestamp), fusion.config.HalfLife)
		scored.Score = fusion.config.Alpha*scored.Similarity +
			fusion.config.Beta*scored.Proximity +
			fusion.config.Gamma*scored.Recency
		scored.Item.Importance = DecayedImportance(scored.Item, now, fusion.config.ImportanceHalfLife)
		items = append(items, *scored)
	}

	sort.Slice(items, func(i, j int) bool {
		return ranksBefore(items[i], items[j])
	})

	return items
}

// ranksBefore orders by score, then recency, then ID, so ties never depend
// on map iteration order.
func ranksBefore(a, b ScoredItem) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}

	if !a.Item.Timestamp.Equal(b.Item.Timestamp) {
		return a.Item.Timestamp.After(b.Item.Timestamp)
	}

	return a.Item.ID > b.Item.ID
}

func (fusion *Fusion) truncate(items []ScoredItem, budget Budget) []ScoredItem {
	maxItems := budget.MaxItems
	if maxItems <= 0 {
		maxItems = fusion.config.MaxItems
	}

	maxTokens := budget.MaxTokens
	if maxTokens <= 0 {
		maxTokens = fusion.config.MaxTokens
	}

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}

	if maxTokens <= 0 {
		return items
	}

	used := 0

	for i, scored := range items {
		used += EstimateTokens(scored.Item.Text)

		if used > maxTokens {
			return items[:i]
		}
	}

	return items
}

/*
within runs fn under its own timeout and stops waiting once the timeout
fires, even if fn ignores its context.
*/
func within[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		value, err := fn(ctx)
		done <- outcome{value, err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}

func WithSeeder(seeder Seeder) FusionOption {
	return func(fusion *Fusion) {
		fusion.seeder = seeder
	}
}

func WithCanonicalizer(canon *Canonicalizer) FusionOption {
	return func(fusion *Fusion) {
		fusion.canon = canon
	}
}

func WithContextStore(sessions ContextStore) FusionOption {
	return func(fusion *Fusion) {
		fusion.sessions = sessions
	}
}

func WithFusionConfig(config FusionConfig) FusionOption {
	return func(fusion *Fusion) {
		fusion.config = config
	}
}

func WithFusionMetrics(m *metrics.MemoryMetrics) FusionOption {
	return func(fusion *Fusion) {
		fusion.metrics = m
	}
}

func WithFusionClock(now func() time.Time) FusionOption {
	return func(fusion *Fusion) {
		fusion.now = now
	}
}
