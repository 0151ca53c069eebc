// Package retrieval embeds user queries and resolves them against the active
// knowledge version, assembling citation lists for the chat orchestrator and
// the grounding validator.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kjellm/anchor/internal/store"
)

var (
	// ErrDimensionMismatch indicates the query embedding dimensionality does
	// not match the active version's. This is a configuration/consistency
	// error and is surfaced immediately, never silently truncated or padded.
	ErrDimensionMismatch = errors.New("query embedding dimension mismatch")

	// ErrModelMismatch indicates the configured embedding model differs from
	// the one that built the active version. Mixing vectors from different
	// models in one comparison is rejected outright.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// Citation links retrieved evidence back to a specific source chunk.
type Citation struct {
	ChunkID  string  `json:"chunkId"`
	DocID    string  `json:"docId"`
	DocTitle string  `json:"docTitle"`
	Ordinal  int     `json:"ordinal"`
	Section  string  `json:"section,omitempty"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// QueryEmbedder embeds retrieval queries and reports the model it uses.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	ModelID() string
	Dimension() int
}

// Index is the read-only slice of the knowledge store retrieval needs.
type Index interface {
	ActiveVersion(ctx context.Context, namespace string) (store.VersionInfo, error)
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]store.Hit, error)
}

// defaultTopK is the result count used when the caller passes k <= 0 and no
// default was configured.
const defaultTopK = 5

// Engine retrieves the nearest chunks for a query from the active version.
type Engine struct {
	embedder QueryEmbedder
	index    Index
	topK     int
	minScore float64
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine. topK is the result count used when a
// caller does not override it. Results scoring below minScore are dropped
// entirely rather than passed through as weak evidence.
func NewEngine(embedder QueryEmbedder, index Index, topK int, minScore float64, logger *slog.Logger) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		topK:     topK,
		minScore: minScore,
		logger:   logger,
	}
}

// Retrieve returns citations for the query, ordered by descending relevance.
// Equal scores are broken by (document id, chunk ordinal) so retrieval is
// reproducible for the same query and version. An empty result is a valid
// outcome, not an error.
func (e *Engine) Retrieve(ctx context.Context, namespace, query string, k int) ([]Citation, error) {
	if k <= 0 {
		k = e.topK
	}

	info, err := e.index.ActiveVersion(ctx, namespace)
	if err != nil {
		if errors.Is(err, store.ErrNoActiveVersion) {
			return nil, nil
		}
		return nil, err
	}

	// The query must be embedded with the same model that built the version.
	if info.EmbedderModel != e.embedder.ModelID() {
		return nil, fmt.Errorf("%w: version built with %q, client uses %q",
			ErrModelMismatch, info.EmbedderModel, e.embedder.ModelID())
	}
	if info.Dimension != e.embedder.Dimension() {
		return nil, fmt.Errorf("%w: version expects %d, client produces %d",
			ErrDimensionMismatch, info.Dimension, e.embedder.Dimension())
	}

	vector, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vector) != info.Dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, version expects %d",
			ErrDimensionMismatch, len(vector), info.Dimension)
	}

	hits, err := e.index.Query(ctx, namespace, vector, k)
	if err != nil {
		return nil, fmt.Errorf("querying active version: %w", err)
	}

	citations := make([]Citation, 0, len(hits))
	for _, h := range hits {
		if h.Score < e.minScore {
			continue
		}
		citations = append(citations, Citation{
			ChunkID:  h.ChunkID,
			DocID:    h.DocID,
			DocTitle: h.DocTitle,
			Ordinal:  h.Ordinal,
			Section:  h.Section,
			Content:  h.Content,
			Score:    h.Score,
		})
	}

	sort.SliceStable(citations, func(i, j int) bool {
		if citations[i].Score != citations[j].Score {
			return citations[i].Score > citations[j].Score
		}
		if citations[i].DocID != citations[j].DocID {
			return citations[i].DocID < citations[j].DocID
		}
		return citations[i].Ordinal < citations[j].Ordinal
	})

	e.logger.Debug("retrieval complete",
		"namespace", namespace,
		"version", info.ID,
		"hits", len(hits),
		"above_threshold", len(citations))
	return citations, nil
}
