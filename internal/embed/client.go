// Package embed wraps a remote embedding service behind a batch-oriented
// client with bounded retry, rate limiting, and strict dimensionality checks.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

var (
	// ErrEmbeddingUnavailable indicates the embedding service stayed
	// unreachable after all retries. A degraded or zero vector is never
	// substituted; the affected chunks are a hard failure.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates the service returned vectors of an
	// unexpected dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// RetryConfig configures retry and timeout behavior for embedding calls.
type RetryConfig struct {
	MaxRetries      int           // retry attempts after the first try
	InitialInterval time.Duration // first backoff interval
	MaxInterval     time.Duration // backoff ceiling
	CallTimeout     time.Duration // whole-call deadline including retries, 0 disables
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     8 * time.Second,
		CallTimeout:     30 * time.Second,
	}
}

// Client turns batches of chunk texts into fixed-length vectors, preserving
// input order. Every call reports the embedding model identifier and
// dimensionality so mixed-model comparisons can be rejected downstream.
type Client struct {
	embedder  ai.Embedder
	modelID   string
	dimension int
	retry     RetryConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates an embedding client.
// limiter may be nil to disable rate limiting (tests).
func NewClient(embedder ai.Embedder, modelID string, dimension int, retry RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		embedder:  embedder,
		modelID:   modelID,
		dimension: dimension,
		retry:     retry,
		limiter:   limiter,
		logger:    logger,
	}
}

// ModelID returns the embedding model identifier.
func (c *Client) ModelID() string { return c.modelID }

// Dimension returns the vector dimensionality this client produces.
func (c *Client) Dimension() int { return c.dimension }

// EmbedBatch embeds texts in order, one vector per text. Transient transport
// failures are retried with exponential backoff up to the retry ceiling; on
// exhaustion the whole batch fails with ErrEmbeddingUnavailable.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.retry.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.retry.CallTimeout)
		defer cancel()
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}
	req := &ai.EmbedRequest{Input: docs}

	resp, err := c.embedWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d texts",
			ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) != c.dimension {
			return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
				ErrDimensionMismatch, c.modelID, len(e.Embedding), c.dimension)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// EmbedOne embeds a single text, typically a retrieval query.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedWithRetry executes the embed request with exponential backoff.
// Each attempt waits on the rate limiter, including retries.
func (c *Client) embedWithRetry(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	var lastErr error
	delay := c.retry.InitialInterval

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.embedder.Embed(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) || attempt == c.retry.MaxRetries {
			break
		}

		c.logger.Debug("embedding call failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.retry.MaxInterval {
			delay = c.retry.MaxInterval
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}
