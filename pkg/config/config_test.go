package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, yml string) (Config, error) {
	t.Helper()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yml)))

	return Load(v)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := load(t, `
fusion:
  alpha: 0.5
  half_life: 72h
  max_hops: 3
retention:
  max_age: 720h
entities:
  aliases:
    nyc: new york city
log:
  level: debug
`)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Fusion.Alpha)
	assert.Equal(t, 0.3, cfg.Fusion.Beta)
	assert.Equal(t, 72*time.Hour, cfg.Fusion.HalfLife)
	assert.Equal(t, 3, cfg.Fusion.MaxHops)
	assert.Equal(t, 20, cfg.Fusion.VectorK)
	assert.Equal(t, 720*time.Hour, cfg.Retention.MaxAge)
	assert.Equal(t, "new york city", cfg.Entities.Aliases["nyc"])
	assert.Equal(t, VectorChromem, cfg.Vector.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Writer.Retry.MaxAttempts)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"negative weight", "fusion:\n  alpha: -1\n"},
		{"all weights zero", "fusion:\n  alpha: 0\n  beta: 0\n  gamma: 0\n"},
		{"unknown vector backend", "vector:\n  backend: pinecone\n"},
		{"qdrant without url", "vector:\n  backend: qdrant\n"},
		{"neo4j without uri", "graph:\n  backend: neo4j\n"},
		{"redis without url", "queue:\n  backend: redis\n"},
		{"importance out of range", "retention:\n  min_importance: 2\n"},
		{"unknown log level", "log:\n  level: chatty\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yml)
			assert.Error(t, err)
		})
	}
}
