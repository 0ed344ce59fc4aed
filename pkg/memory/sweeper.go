package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/theapemachine/nire/pkg/metrics"
)

/*
Sweeper applies the retention policy: memories older than MaxAge whose
decayed importance fell below MinImportance are deleted from both stores.
It is the only path that physically removes memories.
*/
type Sweeper struct {
	vector             VectorStore
	graph              GraphStore
	config             RetentionConfig
	importanceHalfLife time.Duration
	metrics            *metrics.MemoryMetrics
	now                func() time.Time
}

func NewSweeper(
	vector VectorStore, graph GraphStore, config RetentionConfig, importanceHalfLife time.Duration,
	m *metrics.MemoryMetrics,
) *Sweeper {
	return &Sweeper{
		vector:             vector,
		graph:              graph,
		config:             config,
		importanceHalfLife: importanceHalfLife,
		metrics:            m,
		now:                time.Now,
	}
}

/*
Sweep returns the number of memories removed. Candidates come from both
stores, so a memory whose graph write never landed still expires. The vector
delete runs first; if the graph delete then fails the memory nodes are found
again next time.
*/
func (sweeper *Sweeper) Sweep(ctx context.Context) (int, error) {
	if sweeper.config.MaxAge <= 0 {
		return 0, nil
	}

	now := sweeper.now()
	cutoff := now.Add(-sweeper.config.MaxAge)

	candidates, err := sweeper.graph.Memories(ctx, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	vectorOnly, err := sweeper.vector.Before(ctx, cutoff)

	if err != nil {
		return 0, fmt.Errorf("failed to list sweep candidates from vector store: %w", err)
	}

	var (
		ids  []string
		seen = make(map[string]struct{}, len(candidates))
	)

	for _, item := range append(candidates, vectorOnly...) {
		if _, ok := seen[item.ID]; ok {
			continue
		}

		seen[item.ID] = struct{}{}

		if DecayedImportance(item, now, sweeper.importanceHalfLife) < sweeper.config.MinImportance {
			ids = append(ids, item.ID)
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if err := sweeper.vector.Delete(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete swept vectors: %w", err)
	}

	if err := sweeper.graph.DeleteMemories(ctx, ids...); err != nil {
		return 0, fmt.Errorf("failed to delete swept memory nodes: %w", err)
	}

	sweeper.metrics.RecordSweep(len(ids))
	log.Info("retention sweep removed memories", "count", len(ids))

	return len(ids), nil
}
