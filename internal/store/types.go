// Package store manages versioned knowledge collections in PostgreSQL with
// pgvector. A namespace holds immutable versions of (chunk, embedding) pairs
// and an alias pointing at the single active version; activation is an atomic
// alias flip that readers can never observe half-done.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrVersionNotFound indicates the version does not exist in the namespace.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNoActiveVersion indicates the namespace has no active version yet.
	ErrNoActiveVersion = errors.New("no active version")

	// ErrVerificationFailed indicates a candidate version failed its sanity
	// checks. The previously active version remains untouched.
	ErrVerificationFailed = errors.New("version verification failed")
)

// Entry is one (chunk, embedding) pair proposed for a new version.
type Entry struct {
	ChunkID    string
	DocID      string
	DocTitle   string
	Ordinal    int
	Section    string
	Content    string
	Embedding  []float32
	SourcePath string // intake-relative path, used to supersede changed documents
}

// VersionInfo describes one stored knowledge version.
type VersionInfo struct {
	Namespace     string
	ID            int64
	EmbedderModel string
	Dimension     int
	ChunkCount    int
	Active        bool
	CreatedAt     time.Time
}

// Hit is one nearest-neighbor result from the active version.
type Hit struct {
	ChunkID  string
	DocID    string
	DocTitle string
	Ordinal  int
	Section  string
	Content  string
	Score    float64 // cosine similarity in [0,1], higher is closer
}
