package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.StorageEngine)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 0.70, cfg.Consolidation.SceneSimilarityThreshold)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, 8, cfg.Retrieval.TopKEpisodes)
	assert.Equal(t, 10, cfg.Retrieval.TopKRetrieval)
	assert.Equal(t, 5, cfg.Retrieval.TopKScenes)
	assert.Equal(t, 3, cfg.Retrieval.MaxQueryRewrites)
	assert.Equal(t, 5, cfg.Segmentation.SlidingWindowSize)
	assert.Equal(t, 0.7, cfg.Segmentation.TopicShiftThreshold)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("EVERMEMOS_STORAGE_ENGINE", "sqlite")
	t.Setenv("EVERMEMOS_SCENE_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("EVERMEMOS_TOP_K_EPISODES", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, 0.85, cfg.Consolidation.SceneSimilarityThreshold)
	assert.Equal(t, 4, cfg.Retrieval.TopKEpisodes)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("EVERMEMOS_TOP_K_RETRIEVAL", "not-a-number")
	t.Setenv("EVERMEMOS_TOPIC_SHIFT_THRESHOLD", "also-bad")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Retrieval.TopKRetrieval)
	assert.Equal(t, 0.7, cfg.Segmentation.TopicShiftThreshold)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("EVERMEMOS_STORAGE_ENGINE", "cassandra")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	t.Setenv("EVERMEMOS_STORAGE_ENGINE", "postgres")
	t.Setenv("EVERMEMOS_POSTGRES_DSN", "")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("EVERMEMOS_POSTGRES_DSN", "postgres://localhost/evermemos?sslmode=disable")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
}
