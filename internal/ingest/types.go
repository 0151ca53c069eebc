// Package ingest implements the document ingestion pipeline: sanitize raw
// intake files, split them into overlapping chunks, embed the chunks and
// propose a new knowledge version to the store, archiving the raw sources.
package ingest

import (
	"errors"
	"time"
)

var (
	// ErrUnsupportedFormat indicates the sanitizer cannot interpret the input.
	// The affected document is skipped; the batch continues.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrIngestLocked indicates another ingestion run holds the intake lock.
	ErrIngestLocked = errors.New("ingestion already in progress")
)

// Format identifies the source format of an intake document.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
	FormatHTML     Format = "html"
	FormatQA       Format = "qa" // structured question/answer records
)

// State is a document's position in the ingestion state machine.
type State string

const (
	StateDiscovered State = "DISCOVERED"
	StateSanitized  State = "SANITIZED"
	StateChunked    State = "CHUNKED"
	StateEmbedded   State = "EMBEDDED"
	StateStored     State = "STORED"
	StateArchived   State = "ARCHIVED"
	StateFailed     State = "FAILED"
)

// CleanDoc is the sanitizer's output: normalized UTF-8 text plus extracted
// metadata. The document identifier is derived from the normalized text, so
// identical content always maps to the same ID regardless of filename.
type CleanDoc struct {
	ID        string
	Title     string
	Format    Format
	Text      string
	WordCount int
	CharCount int
}

// Chunk is a contiguous slice of a CleanDoc's text. Chunks from one document
// tile the text with a fixed window and overlap, so re-chunking unchanged
// input yields byte-identical chunks.
type Chunk struct {
	Ordinal int    // position within the document, starting at 0
	Start   int    // byte offset of the chunk's first word
	End     int    // byte offset just past the chunk's last word
	Section string // nearest enclosing section header, if any
	Text    string
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	Processed int           // documents stored and archived
	Failed    int           // documents left in intake for inspection
	Skipped   int           // documents unchanged since the active version
	VersionID int64         // new version id, 0 when nothing was ingested
	Activated bool          // whether the new version became active
	Duration  time.Duration // wall-clock duration of the run
}
