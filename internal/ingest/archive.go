package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Archive keeps a durable, content-addressed copy of every successfully
// ingested raw document. The archive plus the migration history is enough to
// rebuild any knowledge version from source.
type Archive struct {
	dir    string
	logger *slog.Logger
}

// archiveRecord is the sidecar metadata written next to each archived file.
type archiveRecord struct {
	DocID        string    `json:"doc_id"`
	SourceName   string    `json:"source_name"`
	Format       Format    `json:"format"`
	Title        string    `json:"title"`
	WordCount    int       `json:"word_count"`
	CharCount    int       `json:"char_count"`
	ArchivedAt   time.Time `json:"archived_at"`
	RawSizeBytes int       `json:"raw_size_bytes"`
}

// NewArchive creates an Archive rooted at dir, creating it if needed.
func NewArchive(dir string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &Archive{dir: dir, logger: logger}, nil
}

// Store writes the raw bytes under the document's content-derived ID plus a
// metadata sidecar. Storing the same content twice overwrites in place, which
// is a no-op by construction.
func (a *Archive) Store(doc CleanDoc, sourceName string, raw []byte) error {
	rawPath := filepath.Join(a.dir, doc.ID+".raw")
	if err := os.WriteFile(rawPath, raw, 0o640); err != nil {
		return fmt.Errorf("archiving %s: %w", doc.ID, err)
	}

	rec := archiveRecord{
		DocID:        doc.ID,
		SourceName:   sourceName,
		Format:       doc.Format,
		Title:        doc.Title,
		WordCount:    doc.WordCount,
		CharCount:    doc.CharCount,
		ArchivedAt:   time.Now().UTC(),
		RawSizeBytes: len(raw),
	}
	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding archive metadata for %s: %w", doc.ID, err)
	}
	if err := os.WriteFile(filepath.Join(a.dir, doc.ID+".json"), meta, 0o640); err != nil {
		return fmt.Errorf("writing archive metadata for %s: %w", doc.ID, err)
	}

	a.logger.Debug("archived document", "doc_id", doc.ID, "source", sourceName, "bytes", len(raw))
	return nil
}

// Has reports whether a document with the given ID is already archived.
func (a *Archive) Has(docID string) bool {
	_, err := os.Stat(filepath.Join(a.dir, docID+".raw"))
	return err == nil
}
