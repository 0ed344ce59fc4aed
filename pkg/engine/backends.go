package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go/option"

	"github.com/theapemachine/nire/pkg/config"
	"github.com/theapemachine/nire/pkg/embed"
	"github.com/theapemachine/nire/pkg/extract"
	"github.com/theapemachine/nire/pkg/memory"
	"github.com/theapemachine/nire/pkg/stores/chromem"
	"github.com/theapemachine/nire/pkg/stores/memgraph"
	"github.com/theapemachine/nire/pkg/stores/neo4j"
	"github.com/theapemachine/nire/pkg/stores/qdrant"
	"github.com/theapemachine/nire/pkg/stores/redis"
	"github.com/theapemachine/nire/pkg/stores/s3"
)

/*
Exporter writes a snapshot somewhere and says where.
*/
type Exporter interface {
	Export(ctx context.Context, snapshot memory.Snapshot) (string, error)
}

func openVector(cfg config.VectorConfig, dimensions int) (memory.VectorStore, error) {
	switch cfg.Backend {
	case config.VectorQdrant:
		return qdrant.New(cfg.URL, cfg.Collection), nil
	default:
		return chromem.New(cfg.Path, cfg.Collection, dimensions)
	}
}

func openGraph(ctx context.Context, cfg config.GraphConfig) (memory.GraphStore, error) {
	switch cfg.Backend {
	case config.GraphNeo4j:
		return neo4j.Open(ctx, cfg.URI, cfg.User, cfg.Password, cfg.Database)
	default:
		return memgraph.New(), nil
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (memory.SyncQueue, func() error, error) {
	switch cfg.Backend {
	case config.QueueRedis:
		queue, err := redis.NewQueue(ctx, cfg.URL, cfg.Key)

		if err != nil {
			return nil, nil, err
		}

		return queue, queue.Close, nil
	default:
		return memory.NewMemoryQueue(), nil, nil
	}
}

func newEmbedder(cfg config.EmbedderConfig) (memory.Embedder, error) {
	var embedder memory.Embedder

	switch cfg.Backend {
	case config.EmbedderOpenAI:
		opts := []option.RequestOption{}

		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			opts = append(opts, option.WithAPIKey(key))
		}

		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}

		embedder = embed.NewOpenAI(cfg.Dimensions, embed.WithOpenAIModel(cfg.Model), embed.WithOpenAIClient(opts...))
	case config.EmbedderOllama:
		ollama, err := embed.NewOllama(cfg.Host, cfg.Model, cfg.Dimensions)

		if err != nil {
			return nil, err
		}

		embedder = ollama
	default:
		embedder = embed.NewHash(cfg.Dimensions)
	}

	if cfg.CacheSize <= 0 || cfg.Backend == config.EmbedderHash {
		return embedder, nil
	}

	return embed.NewCached(embedder, cfg.CacheSize)
}

func newExtractor(cfg config.ExtractorConfig) (memory.Extractor, memory.Seeder, error) {
	heuristic := extract.NewHeuristic()

	if cfg.Backend != config.ExtractorOllama {
		return heuristic, heuristic, nil
	}

	ollama, err := extract.NewOllama(cfg.Host, cfg.Model, heuristic)

	if err != nil {
		return nil, nil, err
	}

	return ollama, heuristic, nil
}

func newExporter(cfg config.ExportConfig) (Exporter, error) {
	if cfg.Endpoint == "" {
		return &fileExporter{dir: cfg.Dir}, nil
	}

	return s3.NewExporter(s3.Options{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Secure:    cfg.Secure,
	})
}

// fileExporter writes snapshots as JSON files named like their object keys.
type fileExporter struct {
	dir string
}

func (exporter *fileExporter) Export(ctx context.Context, snapshot memory.Snapshot) (string, error) {
	if err := os.MkdirAll(exporter.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")

	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	path := filepath.Join(exporter.dir, "nire-"+strings.TrimPrefix(s3.Key(snapshot), "snapshots/"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return path, nil
}
