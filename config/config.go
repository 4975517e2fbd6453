// Package config loads process configuration from environment
// variables (with an optional YAML overlay file), following the
// teacher's typed-getter-with-default convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"convomem/chunker"
	"convomem/embedclient"
	"convomem/merger"
	"convomem/prompt"
	"convomem/retriever"
	"convomem/window"
)

// Config holds every tunable of the conversational memory engine.
type Config struct {
	HTTP      HTTPConfig
	Store     StoreConfig
	LLM       LLMConfig
	Chunker   chunker.Config
	Embed     embedclient.Config
	Window    window.Config
	Retriever retriever.Config
	Merger    merger.Config
	Prompt    prompt.Config
	Workers   int
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Host string
	Port int
}

// StoreConfig selects and configures the message/vector backends.
type StoreConfig struct {
	Backend        string // "memory", "sqlite" (messages) / "postgres" (vectors)
	SQLitePath     string
	PostgresDSN    string
	PostgresPoolSize int
}

// LLMConfig configures the OpenAI-backed completion and embedding clients.
type LLMConfig struct {
	APIKey          string
	CompletionModel string
	EmbeddingModel  string
}

// overlay mirrors the subset of Config keys an operator may override
// via a YAML file. It is applied after env vars are read, and only to
// keys whose env var is unset, so env always wins.
type overlay struct {
	Chunk struct {
		MaxChars     *int `yaml:"maxChars"`
		OverlapChars *int `yaml:"overlapChars"`
	} `yaml:"chunk"`
	Prompt struct {
		MaxLength *int    `yaml:"maxLength"`
		Format    *string `yaml:"format"`
	} `yaml:"prompt"`
}

// Load builds Config from environment variables, optionally overlaid by
// a YAML file at path (if path is non-empty and the file exists).
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Host: getEnvString("TIMELINE_HTTP_HOST", "0.0.0.0"),
			Port: getEnvInt("TIMELINE_HTTP_PORT", 8080),
		},
		Store: StoreConfig{
			Backend:          getEnvString("TIMELINE_STORE_BACKEND", "memory"),
			SQLitePath:       getEnvString("TIMELINE_STORE_SQLITE_PATH", "./data/timeline.db"),
			PostgresDSN:      getEnvString("TIMELINE_STORE_POSTGRES_DSN", ""),
			PostgresPoolSize: getEnvInt("TIMELINE_STORE_POSTGRES_POOL_SIZE", 10),
		},
		LLM: LLMConfig{
			APIKey:          getEnvString("TIMELINE_LLM_API_KEY", ""),
			CompletionModel: getEnvString("TIMELINE_LLM_COMPLETION_MODEL", "gpt-4o-mini"),
			EmbeddingModel:  getEnvString("TIMELINE_LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Chunker: chunker.Config{
			MaxChars:     getEnvInt("TIMELINE_CHUNK_MAX_CHARS", 500),
			OverlapChars: getEnvInt("TIMELINE_CHUNK_OVERLAP_CHARS", 50),
		},
		Embed: embedclient.Config{
			Model:      getEnvString("TIMELINE_EMBED_MODEL", "text-embedding-3-small"),
			Dimension:  getEnvInt("TIMELINE_EMBED_DIMENSION", 768),
			Timeout:    getEnvDuration("TIMELINE_EMBED_TIMEOUT_MS", 30000),
			MaxRetries: getEnvInt("TIMELINE_EMBED_MAX_RETRIES", 3),
			BaseDelay:  200 * time.Millisecond,
		},
		Window: window.Config{
			Size:                   getEnvInt("TIMELINE_WINDOW_SIZE", 6),
			MaxSummaryChars:        getEnvInt("TIMELINE_WINDOW_MAX_SUMMARY_CHARS", 1000),
			MaxAgeHours:            getEnvInt("TIMELINE_WINDOW_MAX_AGE_HOURS", 24),
			CleanupIntervalMinutes: getEnvInt("TIMELINE_WINDOW_CLEANUP_INTERVAL_MINUTES", 60),
		},
		Retriever: retriever.Config{
			Strategy:                  retriever.Strategy(getEnvString("TIMELINE_CONTEXT_STRATEGY", "ADAPTIVE")),
			ChunksBefore:              getEnvInt("TIMELINE_CONTEXT_CHUNKS_BEFORE", 2),
			ChunksAfter:               getEnvInt("TIMELINE_CONTEXT_CHUNKS_AFTER", 2),
			MaxSimilar:                getEnvInt("TIMELINE_CONTEXT_MAX_SIMILAR", 5),
			SimilarityThreshold:       getEnvFloat("TIMELINE_CONTEXT_SIMILARITY_THRESHOLD", 0.3),
			MaxPerGroup:               getEnvInt("TIMELINE_CONTEXT_MAX_PER_GROUP", 5),
			AdaptiveQualityThreshold:  getEnvFloat("TIMELINE_CONTEXT_ADAPTIVE_QUALITY_THRESHOLD", 0.7),
			AdaptiveExpansionFactor:   getEnvFloat("TIMELINE_CONTEXT_ADAPTIVE_EXPANSION_FACTOR", 1.5),
			DuplicateOverlapThreshold: getEnvFloat("TIMELINE_CONTEXT_DUPLICATE_OVERLAP_THRESHOLD", 0.85),
			MaxExpansionFactor:        getEnvFloat("TIMELINE_CONTEXT_MAX_EXPANSION_FACTOR", 4),
		},
		Merger: merger.Config{
			MaxGroups:      getEnvInt("TIMELINE_CONTEXT_MAX_GROUPS", 3),
			MaxTotalChunks: getEnvInt("TIMELINE_CONTEXT_MAX_TOTAL_CHUNKS", 20),
		},
		Prompt: prompt.Config{
			MaxPromptLength: getEnvInt("TIMELINE_PROMPT_MAX_LENGTH", 4000),
			Format:          prompt.Format(getEnvString("TIMELINE_PROMPT_FORMAT", "structured")),
		},
		Workers: getEnvInt("TIMELINE_INDEX_WORKERS", 4),
	}

	if yamlPath != "" {
		if err := applyYAMLOverlay(cfg, yamlPath); err != nil {
			return nil, fmt.Errorf("apply config overlay: %w", err)
		}
	}

	return cfg, nil
}

func applyYAMLOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var ov overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return err
	}

	if ov.Chunk.MaxChars != nil && os.Getenv("TIMELINE_CHUNK_MAX_CHARS") == "" {
		cfg.Chunker.MaxChars = *ov.Chunk.MaxChars
	}
	if ov.Chunk.OverlapChars != nil && os.Getenv("TIMELINE_CHUNK_OVERLAP_CHARS") == "" {
		cfg.Chunker.OverlapChars = *ov.Chunk.OverlapChars
	}
	if ov.Prompt.MaxLength != nil && os.Getenv("TIMELINE_PROMPT_MAX_LENGTH") == "" {
		cfg.Prompt.MaxPromptLength = *ov.Prompt.MaxLength
	}
	if ov.Prompt.Format != nil && os.Getenv("TIMELINE_PROMPT_FORMAT") == "" {
		cfg.Prompt.Format = prompt.Format(*ov.Prompt.Format)
	}
	return nil
}

// GetAddress returns the HTTP server's listen address.
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultMillis int) time.Duration {
	millis := getEnvInt(key, defaultMillis)
	return time.Duration(millis) * time.Millisecond
}
