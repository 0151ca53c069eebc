// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.anchor/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model and dimensionality
//   - Storage: PostgreSQL connection (see storage.go)
//   - Ingestion: intake/archive directories, chunk window and overlap
//   - Retrieval: result count and minimum relevance score
//   - Server: listen address, per-call timeouts
//   - Tracing: OTLP exporter endpoint (see tracing.go)
//
// Error handling uses sentinel errors so callers can check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimensionality is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidChunkWindow indicates the chunk window size is out of range.
	ErrInvalidChunkWindow = errors.New("invalid chunk window")

	// ErrInvalidChunkOverlap indicates the chunk overlap is out of range.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidTopK indicates the retrieval result count is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidMinScore indicates the retrieval score threshold is out of range.
	ErrInvalidMinScore = errors.New("invalid retrieval min score")

	// ErrInvalidNamespace indicates the knowledge namespace is empty or malformed.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultEmbedderModel is the default embedding model.
	// gemini-embedding-001 supports truncation to 768 dimensions, which is
	// what the pgvector schema is sized for.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension is the vector dimensionality the store expects.
	DefaultEmbedderDimension = 768

	// DefaultChunkWindow is the chunk window size in words.
	DefaultChunkWindow = 200

	// DefaultChunkOverlap is the chunk overlap in words.
	DefaultChunkOverlap = 40

	// DefaultTopK is the default retrieval result count.
	DefaultTopK = 5

	// DefaultMinScore is the default minimum relevance score; retrieval
	// results scoring below it are dropped entirely.
	DefaultMinScore = 0.35

	// DefaultNamespace is the knowledge namespace used when none is given.
	DefaultNamespace = "portfolio"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "ollama"
	ModelName string `mapstructure:"model_name" json:"model_name"` // generation model (e.g. "gemini-2.5-flash")

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Ingestion configuration
	IntakeDir    string `mapstructure:"intake_dir" json:"intake_dir"`
	ArchiveDir   string `mapstructure:"archive_dir" json:"archive_dir"`
	ChunkWindow  int    `mapstructure:"chunk_window" json:"chunk_window"`   // words per chunk
	ChunkOverlap int    `mapstructure:"chunk_overlap" json:"chunk_overlap"` // overlapping words between adjacent chunks

	// Retrieval configuration
	Namespace string  `mapstructure:"namespace" json:"namespace"`
	TopK      int     `mapstructure:"top_k" json:"top_k"`
	MinScore  float64 `mapstructure:"min_score" json:"min_score"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Per-call timeouts, in seconds
	EmbedTimeoutSec    int `mapstructure:"embed_timeout_sec" json:"embed_timeout_sec"`
	RetrieveTimeoutSec int `mapstructure:"retrieve_timeout_sec" json:"retrieve_timeout_sec"`
	GenerateTimeoutSec int `mapstructure:"generate_timeout_sec" json:"generate_timeout_sec"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"` // SENSITIVE: never serialized
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing configuration (see tracing.go)
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".anchor")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(home)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when present, overrides the individual postgres settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(home string) {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("ollama_host", "http://localhost:11434")

	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	viper.SetDefault("intake_dir", filepath.Join(home, ".anchor", "intake"))
	viper.SetDefault("archive_dir", filepath.Join(home, ".anchor", "archive"))
	viper.SetDefault("chunk_window", DefaultChunkWindow)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)

	viper.SetDefault("namespace", DefaultNamespace)
	viper.SetDefault("top_k", DefaultTopK)
	viper.SetDefault("min_score", DefaultMinScore)

	viper.SetDefault("listen_addr", "127.0.0.1:3500")
	viper.SetDefault("embed_timeout_sec", 30)
	viper.SetDefault("retrieve_timeout_sec", 10)
	viper.SetDefault("generate_timeout_sec", 60)

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "anchor")
	viper.SetDefault("postgres_db_name", "anchor")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4318")
	viper.SetDefault("tracing.service_name", "anchor")
}

func bindEnvVariables() {
	viper.SetEnvPrefix("ANCHOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
