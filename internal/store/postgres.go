package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGQueries is the PostgreSQL + pgvector implementation of Querier.
type PGQueries struct {
	pool *pgxpool.Pool
}

// NewPGQueries creates a PGQueries on the given connection pool.
// The pool's lifecycle is managed by the caller.
func NewPGQueries(pool *pgxpool.Pool) *PGQueries {
	return &PGQueries{pool: pool}
}

var _ Querier = (*PGQueries)(nil)

// EnsureNamespace creates the namespace row if it does not exist.
func (q *PGQueries) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO namespaces (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		namespace)
	if err != nil {
		return fmt.Errorf("ensuring namespace: %w", err)
	}
	return nil
}

// AllocateVersion claims the next version id and inserts the version row in
// one transaction, so concurrent ingestion runs can never share an id.
func (q *PGQueries) AllocateVersion(ctx context.Context, namespace, embedderModel string, dimension int) (int64, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`UPDATE namespaces SET next_version = next_version + 1, updated_at = now()
		 WHERE name = $1
		 RETURNING next_version - 1`,
		namespace).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
	}
	if err != nil {
		return 0, fmt.Errorf("allocating version id: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO versions (namespace, id, embedder_model, dimension)
		 VALUES ($1, $2, $3, $4)`,
		namespace, id, embedderModel, dimension)
	if err != nil {
		return 0, fmt.Errorf("inserting version row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing version allocation: %w", err)
	}
	return id, nil
}

// InsertEntries writes entries into a version with a pgx batch and refreshes
// the version's chunk count.
func (q *PGQueries) InsertEntries(ctx context.Context, namespace string, versionID int64, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		vec := pgvector.NewVector(e.Embedding)
		batch.Queue(
			`INSERT INTO chunks (namespace, version_id, chunk_id, doc_id, doc_title,
			                     ordinal, section, content, source_path, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			namespace, versionID, e.ChunkID, e.DocID, e.DocTitle,
			e.Ordinal, e.Section, e.Content, e.SourcePath, &vec)
	}

	br := q.pool.SendBatch(ctx, batch)
	for range entries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting chunk batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing chunk batch: %w", err)
	}

	return q.refreshChunkCount(ctx, namespace, versionID)
}

// CarryForward copies the surviving chunks of fromVersion into versionID.
func (q *PGQueries) CarryForward(ctx context.Context, namespace string, versionID, fromVersion int64, supersededSources []string) (int, error) {
	if supersededSources == nil {
		supersededSources = []string{}
	}
	tag, err := q.pool.Exec(ctx,
		`INSERT INTO chunks (namespace, version_id, chunk_id, doc_id, doc_title,
		                     ordinal, section, content, source_path, embedding)
		 SELECT namespace, $2, chunk_id, doc_id, doc_title,
		        ordinal, section, content, source_path, embedding
		 FROM chunks
		 WHERE namespace = $1 AND version_id = $3
		   AND NOT (source_path = ANY($4))`,
		namespace, versionID, fromVersion, supersededSources)
	if err != nil {
		return 0, fmt.Errorf("carrying forward chunks: %w", err)
	}

	if err := q.refreshChunkCount(ctx, namespace, versionID); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (q *PGQueries) refreshChunkCount(ctx context.Context, namespace string, versionID int64) error {
	_, err := q.pool.Exec(ctx,
		`UPDATE versions SET chunk_count =
		   (SELECT count(*) FROM chunks WHERE namespace = $1 AND version_id = $2)
		 WHERE namespace = $1 AND id = $2`,
		namespace, versionID)
	if err != nil {
		return fmt.Errorf("updating chunk count: %w", err)
	}
	return nil
}

// VersionInfo returns metadata for one version.
func (q *PGQueries) VersionInfo(ctx context.Context, namespace string, versionID int64) (VersionInfo, error) {
	var info VersionInfo
	err := q.pool.QueryRow(ctx,
		`SELECT v.namespace, v.id, v.embedder_model, v.dimension, v.chunk_count,
		        v.created_at, v.id = coalesce(n.active_version, -1)
		 FROM versions v
		 JOIN namespaces n ON n.name = v.namespace
		 WHERE v.namespace = $1 AND v.id = $2`,
		namespace, versionID).
		Scan(&info.Namespace, &info.ID, &info.EmbedderModel, &info.Dimension,
			&info.ChunkCount, &info.CreatedAt, &info.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return VersionInfo{}, fmt.Errorf("%w: %d in %q", ErrVersionNotFound, versionID, namespace)
	}
	if err != nil {
		return VersionInfo{}, fmt.Errorf("reading version info: %w", err)
	}
	return info, nil
}

// ActiveVersionID returns the active version id of the namespace.
func (q *PGQueries) ActiveVersionID(ctx context.Context, namespace string) (int64, bool, error) {
	var id *int64
	err := q.pool.QueryRow(ctx,
		`SELECT active_version FROM namespaces WHERE name = $1`,
		namespace).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading active version: %w", err)
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

// SetActiveVersion flips the alias in a single UPDATE; readers either see the
// old pointer or the new one.
func (q *PGQueries) SetActiveVersion(ctx context.Context, namespace string, versionID int64) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE namespaces SET active_version = $2, updated_at = now() WHERE name = $1`,
		namespace, versionID)
	if err != nil {
		return fmt.Errorf("setting active version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
	}
	return nil
}

// HasDocument reports whether the active version contains the document.
func (q *PGQueries) HasDocument(ctx context.Context, namespace, docID string) (bool, error) {
	var exists bool
	err := q.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM chunks c
		   JOIN namespaces n ON n.name = c.namespace AND c.version_id = n.active_version
		   WHERE c.namespace = $1 AND c.doc_id = $2)`,
		namespace, docID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking document: %w", err)
	}
	return exists, nil
}

// SearchActive returns the k nearest chunks in the active version by cosine
// distance. Joining the alias inside the statement makes the version flip
// atomic from the reader's point of view.
func (q *PGQueries) SearchActive(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	vec := pgvector.NewVector(vector)
	rows, err := q.pool.Query(ctx,
		`SELECT c.chunk_id, c.doc_id, c.doc_title, c.ordinal, c.section, c.content,
		        1 - (c.embedding <=> $2) AS score
		 FROM chunks c
		 JOIN namespaces n ON n.name = c.namespace AND c.version_id = n.active_version
		 WHERE c.namespace = $1
		 ORDER BY c.embedding <=> $2, c.doc_id, c.ordinal
		 LIMIT $3`,
		namespace, &vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocID, &h.DocTitle, &h.Ordinal,
			&h.Section, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return hits, nil
}

// ListVersions returns every retained version of the namespace, newest first.
func (q *PGQueries) ListVersions(ctx context.Context, namespace string) ([]VersionInfo, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT v.namespace, v.id, v.embedder_model, v.dimension, v.chunk_count,
		        v.created_at, v.id = coalesce(n.active_version, -1)
		 FROM versions v
		 JOIN namespaces n ON n.name = v.namespace
		 WHERE v.namespace = $1
		 ORDER BY v.id DESC`,
		namespace)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var infos []VersionInfo
	for rows.Next() {
		var info VersionInfo
		if err := rows.Scan(&info.Namespace, &info.ID, &info.EmbedderModel,
			&info.Dimension, &info.ChunkCount, &info.CreatedAt, &info.Active); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version rows: %w", err)
	}
	return infos, nil
}
