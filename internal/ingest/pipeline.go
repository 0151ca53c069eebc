package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/kjellm/anchor/internal/store"
)

// lockFileName serializes batch runs against one intake directory.
// Two concurrent processes racing the same intake would double-ingest.
const lockFileName = ".anchor.lock"

// defaultWorkers bounds document-level parallelism. Embedding is the
// high-latency stage, so documents are embedded concurrently.
const defaultWorkers = 4

// Embedder is the embedding capability the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Dimension() int
}

// VersionStore is the slice of the knowledge store the pipeline consumes.
// The pipeline only ever proposes versions; activation and verification are
// owned by the store.
type VersionStore interface {
	HasDocument(ctx context.Context, namespace, docID string) (bool, error)
	CreateVersion(ctx context.Context, namespace, embedderModel string, dimension int, entries []store.Entry, supersededSources []string) (int64, error)
	Activate(ctx context.Context, namespace string, versionID int64) error
}

// Config holds pipeline settings.
type Config struct {
	IntakeDir    string
	Namespace    string
	ChunkWindow  int // words per chunk
	ChunkOverlap int // words shared between adjacent chunks
	Workers      int // concurrent documents in the embedding stage
}

// Pipeline drives one batch of intake documents through
// DISCOVERED → SANITIZED → CHUNKED → EMBEDDED → STORED → ARCHIVED.
// A document that fails at any stage moves to FAILED and stays in the intake
// directory for inspection; the batch continues without it.
type Pipeline struct {
	cfg      Config
	embedder Embedder
	store    VersionStore
	archive  *Archive
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(cfg Config, embedder Embedder, vs VersionStore, archive *Archive, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		store:    vs,
		archive:  archive,
		logger:   logger,
	}
}

// docResult is the terminal outcome for one intake document.
type docResult struct {
	file    intakeFile
	state   State
	doc     CleanDoc
	raw     []byte
	entries []store.Entry
	err     error
}

// Run processes one discrete batch of newly discovered documents. It holds an
// exclusive file lock on the intake directory for the duration of the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	lock := flock.New(filepath.Join(p.cfg.IntakeDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring intake lock: %w", err)
	}
	if !locked {
		return nil, ErrIngestLocked
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("releasing intake lock", "error", err)
		}
	}()

	files, err := discover(p.cfg.IntakeDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &Summary{Duration: time.Since(start)}, nil
	}

	results := p.processAll(ctx, files)

	summary := &Summary{}
	var (
		entries    []store.Entry
		superseded []string
		archived   []docResult
	)
	for _, res := range results {
		switch res.state {
		case StateEmbedded:
			entries = append(entries, res.entries...)
			superseded = append(superseded, res.file.name)
			archived = append(archived, res)
		case StateFailed:
			summary.Failed++
			p.logger.Warn("document failed, left in intake",
				"file", res.file.name, "error", res.err)
		default: // skipped (unchanged)
			summary.Skipped++
		}
	}

	if len(entries) > 0 {
		versionID, err := p.store.CreateVersion(ctx, p.cfg.Namespace,
			p.embedder.ModelID(), p.embedder.Dimension(), entries, superseded)
		if err != nil {
			return nil, fmt.Errorf("creating knowledge version: %w", err)
		}
		summary.VersionID = versionID

		if err := p.store.Activate(ctx, p.cfg.Namespace, versionID); err != nil {
			// The previously active version is untouched; this is an
			// operator-level consistency problem, not a per-document one.
			return nil, fmt.Errorf("activating version %d: %w", versionID, err)
		}
		summary.Activated = true

		for _, res := range archived {
			if err := p.archiveAndRemove(res); err != nil {
				p.logger.Warn("archiving failed, document left in intake",
					"file", res.file.name, "error", err)
				summary.Failed++
				continue
			}
			summary.Processed++
		}
	}

	summary.Duration = time.Since(start)
	p.logger.Info("ingestion run complete",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"version", summary.VersionID,
		"duration", summary.Duration)
	return summary, nil
}

// processAll runs the per-document stages with bounded parallelism,
// preserving input order in the returned slice.
func (p *Pipeline) processAll(ctx context.Context, files []intakeFile) []docResult {
	results := make([]docResult, len(files))
	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup

	for i, f := range files {
		wg.Add(1)
		go func(i int, f intakeFile) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.processOne(ctx, f)
		}(i, f)
	}
	wg.Wait()
	return results
}

// processOne advances a single document as far as EMBEDDED, or to FAILED.
func (p *Pipeline) processOne(ctx context.Context, f intakeFile) docResult {
	res := docResult{file: f, state: StateDiscovered}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		res.state, res.err = StateFailed, fmt.Errorf("reading %s: %w", f.name, err)
		return res
	}
	res.raw = raw

	doc, err := Sanitize(f.name, raw, SniffFormat(f.name, raw))
	if err != nil {
		res.state, res.err = StateFailed, err
		return res
	}
	res.doc = doc
	res.state = StateSanitized

	// Idempotency: identical bytes hash to the same document ID; an unchanged
	// document already in the active version is a no-op.
	exists, err := p.store.HasDocument(ctx, p.cfg.Namespace, doc.ID)
	if err != nil {
		res.state, res.err = StateFailed, fmt.Errorf("checking document %s: %w", doc.ID, err)
		return res
	}
	if exists {
		res.state = StateSanitized // reported as skipped
		return res
	}

	chunks := ChunkText(doc.Text, p.cfg.ChunkWindow, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		res.state, res.err = StateFailed, fmt.Errorf("%w: no chunks from %s", ErrUnsupportedFormat, f.name)
		return res
	}
	res.state = StateChunked

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// A document advances only when every chunk succeeded; one failed
		// chunk fails the whole document, never a partial commit.
		res.state, res.err = StateFailed, err
		return res
	}
	if len(vectors) != len(chunks) {
		res.state, res.err = StateFailed,
			fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		return res
	}

	res.entries = make([]store.Entry, len(chunks))
	for i, c := range chunks {
		res.entries[i] = store.Entry{
			ChunkID:    fmt.Sprintf("%s:%d", doc.ID, c.Ordinal),
			DocID:      doc.ID,
			DocTitle:   doc.Title,
			Ordinal:    c.Ordinal,
			Section:    c.Section,
			Content:    c.Text,
			Embedding:  vectors[i],
			SourcePath: f.name,
		}
	}
	res.state = StateEmbedded
	return res
}

// archiveAndRemove copies the raw document into the archive and clears it
// from the intake area. Runs only after the new version is active.
func (p *Pipeline) archiveAndRemove(res docResult) error {
	if err := p.archive.Store(res.doc, res.file.name, res.raw); err != nil {
		return err
	}
	if err := os.Remove(res.file.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s from intake: %w", res.file.name, err)
	}
	return nil
}
