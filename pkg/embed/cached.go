package embed

import (
	"context"
	"slices"

	"github.com/dgraph-io/ristretto"

	"github.com/theapemachine/nire/pkg/memory"
)

/*
Cached memoizes another embedder by exact text. Cost is the vector length,
so the cache holds roughly maxVectors*dimensions floats.
*/
type Cached struct {
	memory.Embedder
	cache *ristretto.Cache
}

func NewCached(embedder memory.Embedder, maxVectors int) (*Cached, error) {
	if maxVectors <= 0 {
		maxVectors = 4096
	}

	cost := int64(maxVectors) * int64(max(embedder.Dimensions(), 1))

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(maxVectors) * 10,
		MaxCost:            cost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})

	if err != nil {
		return nil, err
	}

	return &Cached{Embedder: embedder, cache: cache}, nil
}

func (cached *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if value, ok := cached.cache.Get(text); ok {
		return slices.Clone(value.([]float32)), nil
	}

	vector, err := cached.Embedder.Embed(ctx, text)

	if err != nil {
		return nil, err
	}

	cached.cache.Set(text, slices.Clone(vector), int64(len(vector)))

	return vector, nil
}

// Wait blocks until pending cache writes are visible.
func (cached *Cached) Wait() {
	cached.cache.Wait()
}

func (cached *Cached) Close() {
	cached.cache.Close()
}
