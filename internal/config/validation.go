package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Validate checks the configuration for serve and ingest modes.
// Returns a sentinel error (wrapped with context) on the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case "", ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is empty", ErrInvalidOllamaHost)
		}
		if u, err := url.Parse(c.OllamaHost); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q is not a valid URL", ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}
	return nil
}

func (c *Config) validateModels() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidEmbedderModel)
	}
	// 1..4096 covers every embedding model in use; the store schema is sized
	// for the configured value, so a mismatch here is a consistency error.
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: %d (must be in 1..4096)", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}
	return nil
}

func (c *Config) validateChunking() error {
	if c.ChunkWindow < 10 || c.ChunkWindow > 2000 {
		return fmt.Errorf("%w: %d (must be in 10..2000 words)", ErrInvalidChunkWindow, c.ChunkWindow)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkWindow {
		return fmt.Errorf("%w: %d (must be in 0..window-1)", ErrInvalidChunkOverlap, c.ChunkOverlap)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("%w: namespace is empty", ErrInvalidNamespace)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be in 1..100)", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: %g (must be in [0,1])", ErrInvalidMinScore, c.MinScore)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgresHost)
	}
	if ip := net.ParseIP(c.PostgresHost); ip == nil {
		// Not an IP: must at least look like a hostname.
		if strings.ContainsAny(c.PostgresHost, " \t/") {
			return fmt.Errorf("%w: %q", ErrInvalidPostgresHost, c.PostgresHost)
		}
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: postgres_db_name is empty", ErrInvalidPostgresDBName)
	}
	switch c.PostgresSSLMode {
	case "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	return nil
}
