package memory

import (
	"time"

	"github.com/theapemachine/nire/pkg/errors"
)

/*
FusionConfig holds the knobs of the fusion layer.

	Alpha, Beta, Gamma   weights of similarity, graph proximity and recency
	HalfLife             age at which the recency term halves
	MaxHops              traversal depth
	VectorK, GraphK      candidates fetched per path
	MaxItems, MaxTokens  default budget when a query does not bring one
*/
type FusionConfig struct {
	Alpha              float64       `mapstructure:"alpha"`
	Beta               float64       `mapstructure:"beta"`
	Gamma              float64       `mapstructure:"gamma"`
	HalfLife           time.Duration `mapstructure:"half_life"`
	ImportanceHalfLife time.Duration `mapstructure:"importance_half_life"`
	MaxHops            int           `mapstructure:"max_hops"`
	VectorK            int           `mapstructure:"vector_k"`
	GraphK             int           `mapstructure:"graph_k"`
	MaxItems           int           `mapstructure:"max_items"`
	MaxTokens          int           `mapstructure:"max_tokens"`
	VectorTimeout      time.Duration `mapstructure:"vector_timeout"`
	GraphTimeout       time.Duration `mapstructure:"graph_timeout"`
}

func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Alpha:              0.6,
		Beta:               0.3,
		Gamma:              0.1,
		HalfLife:           30 * 24 * time.Hour,
		ImportanceHalfLife: 90 * 24 * time.Hour,
		MaxHops:            2,
		VectorK:            20,
		GraphK:             20,
		MaxItems:           10,
		VectorTimeout:      2 * time.Second,
		GraphTimeout:       2 * time.Second,
	}
}

type WriterConfig struct {
	DefaultImportance float64            `mapstructure:"default_importance"`
	IDPrefix          string             `mapstructure:"id_prefix"`
	Retry             errors.RetryConfig `mapstructure:"retry"`
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		DefaultImportance: 0.5,
		IDPrefix:          "mem_",
		Retry:             errors.DefaultRetryConfig(),
	}
}

type ReconcileConfig struct {
	Schedule string             `mapstructure:"schedule"`
	Batch    int                `mapstructure:"batch"`
	Workers  int                `mapstructure:"workers"`
	Retry    errors.RetryConfig `mapstructure:"retry"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Schedule: "@every 30s",
		Batch:    64,
		Workers:  4,
		Retry:    errors.DefaultRetryConfig(),
	}
}

/*
RetentionConfig drives the sweep. A zero MaxAge disables it.
*/
type RetentionConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	MinImportance float64       `mapstructure:"min_importance"`
	Schedule      string        `mapstructure:"schedule"`
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MinImportance: 0.1,
		Schedule:      "@daily",
	}
}
