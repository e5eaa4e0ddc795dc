// Package config provides configuration management for Evermemos.
// It loads settings from environment variables with the EVERMEMOS_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the Evermemos engine.
type Config struct {
	Storage       StorageConfig
	LLM           LLMConfig
	Segmentation  SegmentationConfig
	Consolidation ConsolidationConfig
	Retrieval     RetrievalConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: memory, sqlite, postgres (default: memory)
	SQLitePath    string // Path to the SQLite database file (default: ./data/evermemos.db)
	PostgresDSN   string // PostgreSQL connection string
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider             string // LLM provider: ollama, openai (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model name for generation (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama model name for embeddings (default: nomic-embed-text)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI model name (default: gpt-4o-mini)
	OpenAIEmbeddingModel string // OpenAI embedding model name (default: text-embedding-3-small)
}

// SegmentationConfig controls episode boundary detection.
type SegmentationConfig struct {
	SlidingWindowSize   int     // Number of turns analyzed per window (default: 5)
	TopicShiftThreshold float64 // Confidence threshold for a topic shift (default: 0.7)
	ShortConversation   int     // Conversations at or below this length form one episode (default: 10)
}

// ConsolidationConfig controls clustering and profile evolution.
type ConsolidationConfig struct {
	SceneSimilarityThreshold float64 // Cosine threshold for scene assimilation (default: 0.70)
}

// RetrievalConfig controls hybrid retrieval and the verification loop.
type RetrievalConfig struct {
	TopKRetrieval    int // Results per retrieval pass (default: 10)
	TopKScenes       int // Scenes selected per query (default: 5)
	TopKEpisodes     int // Episode budget for the reasoning context (default: 8)
	RRFK             int // Reciprocal rank fusion constant (default: 60)
	MaxQueryRewrites int // Maximum rewrite iterations (default: 3)
	SceneCacheSize   int // LRU cache size for scene lookups (default: 128)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the EVERMEMOS_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("EVERMEMOS_STORAGE_ENGINE", "memory"),
			SQLitePath:    getEnv("EVERMEMOS_SQLITE_PATH", "./data/evermemos.db"),
			PostgresDSN:   getEnv("EVERMEMOS_POSTGRES_DSN", ""),
		},
		LLM: LLMConfig{
			Provider:             getEnv("EVERMEMOS_LLM_PROVIDER", "ollama"),
			OllamaURL:            getEnv("EVERMEMOS_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("EVERMEMOS_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("EVERMEMOS_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:         getEnv("EVERMEMOS_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("EVERMEMOS_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIEmbeddingModel: getEnv("EVERMEMOS_OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Segmentation: SegmentationConfig{
			SlidingWindowSize:   getEnvInt("EVERMEMOS_SLIDING_WINDOW_SIZE", 5),
			TopicShiftThreshold: getEnvFloat("EVERMEMOS_TOPIC_SHIFT_THRESHOLD", 0.7),
			ShortConversation:   getEnvInt("EVERMEMOS_SHORT_CONVERSATION", 10),
		},
		Consolidation: ConsolidationConfig{
			SceneSimilarityThreshold: getEnvFloat("EVERMEMOS_SCENE_SIMILARITY_THRESHOLD", 0.70),
		},
		Retrieval: RetrievalConfig{
			TopKRetrieval:    getEnvInt("EVERMEMOS_TOP_K_RETRIEVAL", 10),
			TopKScenes:       getEnvInt("EVERMEMOS_TOP_K_SCENES", 5),
			TopKEpisodes:     getEnvInt("EVERMEMOS_TOP_K_EPISODES", 8),
			RRFK:             getEnvInt("EVERMEMOS_RRF_K", 60),
			MaxQueryRewrites: getEnvInt("EVERMEMOS_MAX_QUERY_REWRITES", 3),
			SceneCacheSize:   getEnvInt("EVERMEMOS_SCENE_CACHE_SIZE", 128),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee once the environment overrides them.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}
	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: EVERMEMOS_POSTGRES_DSN is required for the postgres engine")
	}
	if c.Consolidation.SceneSimilarityThreshold < 0 || c.Consolidation.SceneSimilarityThreshold > 1 {
		return fmt.Errorf("config: scene similarity threshold must be in [0, 1], got %f", c.Consolidation.SceneSimilarityThreshold)
	}
	if c.Segmentation.TopicShiftThreshold < 0 || c.Segmentation.TopicShiftThreshold > 1 {
		return fmt.Errorf("config: topic shift threshold must be in [0, 1], got %f", c.Segmentation.TopicShiftThreshold)
	}
	if c.Retrieval.RRFK <= 0 {
		return fmt.Errorf("config: RRF constant must be positive, got %d", c.Retrieval.RRFK)
	}
	if c.Retrieval.TopKEpisodes <= 0 || c.Retrieval.TopKRetrieval <= 0 || c.Retrieval.TopKScenes <= 0 {
		return fmt.Errorf("config: retrieval limits must be positive")
	}
	if c.Retrieval.MaxQueryRewrites < 0 {
		return fmt.Errorf("config: max query rewrites must be non-negative, got %d", c.Retrieval.MaxQueryRewrites)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
