/*
Package config loads the typed configuration of a NIRE deployment from
viper and validates it before anything is wired.
*/
package config

import (
	"fmt"
	"time"

	"github.com/cohesivestack/valgo"
	"github.com/spf13/viper"

	"github.com/theapemachine/nire/pkg/memory"
)

const (
	VectorChromem = "chromem"
	VectorQdrant  = "qdrant"

	GraphMemory = "memory"
	GraphNeo4j  = "neo4j"

	QueueMemory = "memory"
	QueueRedis  = "redis"

	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"

	ExtractorHeuristic = "heuristic"
	ExtractorOllama    = "ollama"
)

type VectorConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
}

type GraphConfig struct {
	Backend  string `mapstructure:"backend"`
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type QueueConfig struct {
	Backend string `mapstructure:"backend"`
	URL     string `mapstructure:"url"`
	Key     string `mapstructure:"key"`
}

type EmbedderConfig struct {
	Backend    string `mapstructure:"backend"`
	Model      string `mapstructure:"model"`
	Host       string `mapstructure:"host"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
	CacheSize  int    `mapstructure:"cache_size"`
}

type ExtractorConfig struct {
	Backend string `mapstructure:"backend"`
	Model   string `mapstructure:"model"`
	Host    string `mapstructure:"host"`
}

type EntitiesConfig struct {
	Aliases map[string]string `mapstructure:"aliases"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

/*
ExportConfig selects where snapshots go: an S3-compatible endpoint when one
is set, otherwise files in Dir.
*/
type ExportConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	Dir       string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Fusion    memory.FusionConfig    `mapstructure:"fusion"`
	Writer    memory.WriterConfig    `mapstructure:"writer"`
	Reconcile memory.ReconcileConfig `mapstructure:"reconcile"`
	Retention memory.RetentionConfig `mapstructure:"retention"`
	Vector    VectorConfig           `mapstructure:"vector"`
	Graph     GraphConfig            `mapstructure:"graph"`
	Queue     QueueConfig            `mapstructure:"queue"`
	Embedder  EmbedderConfig         `mapstructure:"embedder"`
	Extractor ExtractorConfig        `mapstructure:"extractor"`
	Entities  EntitiesConfig         `mapstructure:"entities"`
	Session   SessionConfig          `mapstructure:"session"`
	Export    ExportConfig           `mapstructure:"export"`
	Log       LogConfig              `mapstructure:"log"`
	Server    ServerConfig           `mapstructure:"server"`
}

/*
Default is a fully in-process setup: chromem in memory, the in-memory
graph and queue, the hash embedder and the heuristic extractor.
*/
func Default() Config {
	return Config{
		Fusion:    memory.DefaultFusionConfig(),
		Writer:    memory.DefaultWriterConfig(),
		Reconcile: memory.DefaultReconcileConfig(),
		Retention: memory.DefaultRetentionConfig(),
		Vector:    VectorConfig{Backend: VectorChromem, Collection: "memories"},
		Graph:     GraphConfig{Backend: GraphMemory},
		Queue:     QueueConfig{Backend: QueueMemory, Key: "nire:pending"},
		Embedder:  EmbedderConfig{Backend: EmbedderHash, Dimensions: 384, CacheSize: 4096},
		Extractor: ExtractorConfig{Backend: ExtractorHeuristic},
		Session:   SessionConfig{TTL: 24 * time.Hour},
		Export:    ExportConfig{Bucket: "nire", Dir: "."},
		Log:       LogConfig{Level: "info"},
		Server:    ServerConfig{Addr: ":3210"},
	}
}

/*
Load overlays everything set in v on the defaults and validates the result.
*/
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg Config) Validate() error {
	val := valgo.Is(
		valgo.Number(cfg.Fusion.Alpha, "fusion.alpha").GreaterOrEqualTo(0),
		valgo.Number(cfg.Fusion.Beta, "fusion.beta").GreaterOrEqualTo(0),
		valgo.Number(cfg.Fusion.Gamma, "fusion.gamma").GreaterOrEqualTo(0),
		valgo.Number(cfg.Fusion.Alpha+cfg.Fusion.Beta+cfg.Fusion.Gamma, "fusion.weights").GreaterThan(0),
		valgo.Number(cfg.Fusion.MaxHops, "fusion.max_hops").Between(0, 6),
		valgo.Number(cfg.Fusion.VectorK, "fusion.vector_k").GreaterThan(0),
		valgo.Number(cfg.Fusion.GraphK, "fusion.graph_k").GreaterThan(0),
		valgo.Number(cfg.Fusion.MaxItems, "fusion.max_items").GreaterOrEqualTo(0),
		valgo.Number(cfg.Fusion.MaxTokens, "fusion.max_tokens").GreaterOrEqualTo(0),
		valgo.Number(int64(cfg.Fusion.VectorTimeout), "fusion.vector_timeout").GreaterOrEqualTo(0),
		valgo.Number(int64(cfg.Fusion.GraphTimeout), "fusion.graph_timeout").GreaterOrEqualTo(0),
		valgo.Number(cfg.Writer.DefaultImportance, "writer.default_importance").Between(0, 1),
		valgo.Number(cfg.Writer.Retry.MaxAttempts, "writer.retry.max_attempts").GreaterThan(0),
		valgo.Number(cfg.Reconcile.Batch, "reconcile.batch").GreaterOrEqualTo(0),
		valgo.Number(cfg.Reconcile.Workers, "reconcile.workers").GreaterThan(0),
		valgo.Number(cfg.Retention.MinImportance, "retention.min_importance").Between(0, 1),
		valgo.Number(int64(cfg.Retention.MaxAge), "retention.max_age").GreaterOrEqualTo(0),
		valgo.String(cfg.Vector.Backend, "vector.backend").InSlice([]string{VectorChromem, VectorQdrant}),
		valgo.String(cfg.Graph.Backend, "graph.backend").InSlice([]string{GraphMemory, GraphNeo4j}),
		valgo.String(cfg.Queue.Backend, "queue.backend").InSlice([]string{QueueMemory, QueueRedis}),
		valgo.String(cfg.Embedder.Backend, "embedder.backend").InSlice([]string{EmbedderHash, EmbedderOpenAI, EmbedderOllama}),
		valgo.Number(cfg.Embedder.Dimensions, "embedder.dimensions").GreaterOrEqualTo(0),
		valgo.String(cfg.Extractor.Backend, "extractor.backend").InSlice([]string{ExtractorHeuristic, ExtractorOllama}),
		valgo.String(cfg.Log.Level, "log.level").InSlice([]string{"debug", "info", "warn", "error", "fatal"}),
	)

	if cfg.Vector.Backend == VectorQdrant {
		val.Is(valgo.String(cfg.Vector.URL, "vector.url").Not().Blank())
	}

	if cfg.Graph.Backend == GraphNeo4j {
		val.Is(valgo.String(cfg.Graph.URI, "graph.uri").Not().Blank())
	}

	if cfg.Queue.Backend == QueueRedis {
		val.Is(valgo.String(cfg.Queue.URL, "queue.url").Not().Blank())
	}

	if cfg.Embedder.Backend == EmbedderHash {
		val.Is(valgo.Number(cfg.Embedder.Dimensions, "embedder.dimensions").GreaterThan(0))
	}

	if !val.Valid() {
		return fmt.Errorf("invalid config: %w", val.Error())
	}

	return nil
}
