package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofrs/flock"

	"github.com/kjellm/anchor/internal/log"
	"github.com/kjellm/anchor/internal/store"
)

// stubEmbedder returns fixed-size vectors without calling any service.
type stubEmbedder struct {
	dim int
	err error
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (s *stubEmbedder) ModelID() string { return "stub-model" }
func (s *stubEmbedder) Dimension() int  { return s.dim }

// stubVersionStore records calls and simulates document existence.
type stubVersionStore struct {
	mu         sync.Mutex
	existing   map[string]bool
	nextID     int64
	created    [][]store.Entry
	superseded [][]string
	activated  []int64
	createErr  error
}

func (s *stubVersionStore) HasDocument(_ context.Context, _ string, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[docID], nil
}

func (s *stubVersionStore) CreateVersion(_ context.Context, _ string, _ string, _ int, entries []store.Entry, superseded []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.nextID++
	s.created = append(s.created, entries)
	s.superseded = append(s.superseded, superseded)
	for _, e := range entries {
		if s.existing == nil {
			s.existing = map[string]bool{}
		}
		s.existing[e.DocID] = true
	}
	return s.nextID, nil
}

func (s *stubVersionStore) Activate(_ context.Context, _ string, versionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = append(s.activated, versionID)
	return nil
}

func newTestPipeline(t *testing.T, vs *stubVersionStore) (*Pipeline, string, string) {
	t.Helper()
	intake := t.TempDir()
	archiveDir := t.TempDir()
	archive, err := NewArchive(archiveDir, log.NewNop())
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	p := NewPipeline(Config{
		IntakeDir:    intake,
		Namespace:    "portfolio",
		ChunkWindow:  20,
		ChunkOverlap: 5,
	}, &stubEmbedder{dim: 4}, vs, archive, log.NewNop())
	return p, intake, archiveDir
}

func writeIntake(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestPipelineRun(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, archiveDir := newTestPipeline(t, vs)

	writeIntake(t, intake, "about.md", "# About\nI build backend systems in Go.")
	writeIntake(t, intake, "faq.txt", "Q: Do you consult?\nA: Yes, occasionally.\nQ: Remote?\nA: Always.")

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Processed != 2 {
		t.Errorf("Processed = %d, want 2", summary.Processed)
	}
	if summary.VersionID != 1 || !summary.Activated {
		t.Errorf("version = %d activated = %v, want 1/true", summary.VersionID, summary.Activated)
	}
	if len(vs.activated) != 1 || vs.activated[0] != 1 {
		t.Errorf("activated versions = %v, want [1]", vs.activated)
	}
	if len(vs.created) != 1 {
		t.Fatalf("CreateVersion called %d times, want 1", len(vs.created))
	}
	if got := len(vs.superseded[0]); got != 2 {
		t.Errorf("superseded %d sources, want 2", got)
	}

	// Entries carry chunk ids derived from the document hash.
	for _, e := range vs.created[0] {
		if e.DocID == "" || e.ChunkID == "" || len(e.Embedding) != 4 {
			t.Errorf("malformed entry: %+v", e)
		}
	}

	// Both documents left intake and landed in the archive.
	remaining, err := discover(intake)
	if err != nil {
		t.Fatalf("discover() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("intake still holds %d files after successful run", len(remaining))
	}
	archived, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	// One .raw and one .json sidecar per document.
	if len(archived) != 4 {
		t.Errorf("archive holds %d files, want 4", len(archived))
	}
}

func TestPipelineRunIdempotent(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, _ := newTestPipeline(t, vs)

	writeIntake(t, intake, "bio.md", "# Bio\nI like simple systems.")
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	// Re-drop the identical document. Same bytes hash to the same doc id,
	// which the store already holds, so nothing new is ingested.
	writeIntake(t, intake, "bio-copy.md", "# Bio\nI like simple systems.")
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Errorf("Skipped = %d Processed = %d, want 1/0", summary.Skipped, summary.Processed)
	}
	if summary.VersionID != 0 || summary.Activated {
		t.Errorf("no new version expected, got id=%d activated=%v", summary.VersionID, summary.Activated)
	}
	if len(vs.created) != 1 {
		t.Errorf("CreateVersion called %d times across both runs, want 1", len(vs.created))
	}
}

func TestPipelineRunFailedDocumentStays(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, _ := newTestPipeline(t, vs)

	writeIntake(t, intake, "good.md", "# Good\nReal prose that chunks fine.")
	binPath := filepath.Join(intake, "broken.bin")
	if err := os.WriteFile(binPath, append([]byte{0x00, 0x01}, make([]byte, 32)...), 0o644); err != nil {
		t.Fatalf("writing binary file: %v", err)
	}

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Processed != 1 || summary.Failed != 1 {
		t.Errorf("Processed = %d Failed = %d, want 1/1", summary.Processed, summary.Failed)
	}
	// The failed document stays in intake for inspection.
	if _, err := os.Stat(binPath); err != nil {
		t.Errorf("failed document removed from intake: %v", err)
	}
}

func TestPipelineRunEmbedFailureFailsWholeDocument(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, _ := newTestPipeline(t, vs)
	p.embedder = &stubEmbedder{dim: 4, err: errors.New("quota exhausted")}

	writeIntake(t, intake, "doc.md", "# Doc\nSome content to embed.")

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed != 1 || summary.Processed != 0 {
		t.Errorf("Failed = %d Processed = %d, want 1/0", summary.Failed, summary.Processed)
	}
	if len(vs.created) != 0 {
		t.Error("no version should be created when every document fails")
	}
}

func TestPipelineRunRespectsIgnoreFile(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, _ := newTestPipeline(t, vs)

	writeIntake(t, intake, ".anchorignore", "*.draft\n")
	writeIntake(t, intake, "keep.md", "# Keep\nThis one goes in.")
	draft := writeIntake(t, intake, "wip.draft", "not ready yet")

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Processed != 1 {
		t.Errorf("Processed = %d, want 1", summary.Processed)
	}
	if _, err := os.Stat(draft); err != nil {
		t.Errorf("ignored file should be untouched: %v", err)
	}
}

func TestPipelineRunLocked(t *testing.T) {
	vs := &stubVersionStore{}
	p, intake, _ := newTestPipeline(t, vs)
	writeIntake(t, intake, "doc.md", "# Doc\nContent.")

	// Hold the intake lock from "another process".
	other := flock.New(filepath.Join(intake, lockFileName))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquiring external lock: locked=%v err=%v", locked, err)
	}
	defer func() { _ = other.Unlock() }()

	if _, err := p.Run(context.Background()); !errors.Is(err, ErrIngestLocked) {
		t.Errorf("Run() under external lock error = %v, want ErrIngestLocked", err)
	}
}
