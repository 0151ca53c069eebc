package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Querier defines the database operations the Manager depends on.
// Interfaces are defined by the consumer; the pgx-backed implementation lives
// in postgres.go and tests substitute a mock.
type Querier interface {
	// EnsureNamespace creates the namespace row if it does not exist.
	EnsureNamespace(ctx context.Context, namespace string) error

	// AllocateVersion claims the next version id for the namespace and
	// inserts its version row.
	AllocateVersion(ctx context.Context, namespace, embedderModel string, dimension int) (int64, error)

	// InsertEntries writes the given entries into a version and updates its
	// chunk count.
	InsertEntries(ctx context.Context, namespace string, versionID int64, entries []Entry) error

	// CarryForward copies every chunk of fromVersion into versionID except
	// those whose source path is in supersededSources. Returns the number of
	// chunks copied.
	CarryForward(ctx context.Context, namespace string, versionID, fromVersion int64, supersededSources []string) (int, error)

	// VersionInfo returns metadata for one version.
	VersionInfo(ctx context.Context, namespace string, versionID int64) (VersionInfo, error)

	// ActiveVersionID returns the active version id, or ok=false when the
	// namespace has no active version.
	ActiveVersionID(ctx context.Context, namespace string) (id int64, ok bool, err error)

	// SetActiveVersion repoints the namespace alias in a single statement.
	SetActiveVersion(ctx context.Context, namespace string, versionID int64) error

	// HasDocument reports whether the active version contains the document.
	HasDocument(ctx context.Context, namespace, docID string) (bool, error)

	// SearchActive returns the k nearest chunks in the active version. The
	// alias is resolved inside the same statement, so a query sees either the
	// old version or the new one in full, never a mix.
	SearchActive(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error)

	// ListVersions returns all versions of a namespace, newest first.
	ListVersions(ctx context.Context, namespace string) ([]VersionInfo, error)
}

// Manager owns the knowledge-collection lifecycle: version creation, atomic
// activation, rollback, and read queries. It is safe for concurrent use.
type Manager struct {
	q      Querier
	logger *slog.Logger

	// One activation may be in flight per namespace at a time.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager on top of the given Querier.
func NewManager(q Querier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		q:      q,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// namespaceLock returns the activation lock for a namespace.
func (m *Manager) namespaceLock(namespace string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[namespace]
	if !ok {
		l = &sync.Mutex{}
		m.locks[namespace] = l
	}
	return l
}

// CreateVersion writes a brand-new, fully independent version containing the
// given entries plus every chunk of the currently active version that is not
// superseded by this batch. Existing versions are never mutated. The new
// version is not active until Activate is called.
func (m *Manager) CreateVersion(ctx context.Context, namespace, embedderModel string, dimension int, entries []Entry, supersededSources []string) (int64, error) {
	if err := m.q.EnsureNamespace(ctx, namespace); err != nil {
		return 0, fmt.Errorf("ensuring namespace %q: %w", namespace, err)
	}

	versionID, err := m.q.AllocateVersion(ctx, namespace, embedderModel, dimension)
	if err != nil {
		return 0, fmt.Errorf("allocating version in %q: %w", namespace, err)
	}

	if err := m.q.InsertEntries(ctx, namespace, versionID, entries); err != nil {
		return 0, fmt.Errorf("writing version %d: %w", versionID, err)
	}

	carried := 0
	if activeID, ok, err := m.q.ActiveVersionID(ctx, namespace); err != nil {
		return 0, fmt.Errorf("reading active version of %q: %w", namespace, err)
	} else if ok {
		activeInfo, err := m.q.VersionInfo(ctx, namespace, activeID)
		if err != nil {
			return 0, fmt.Errorf("reading version %d of %q: %w", activeID, namespace, err)
		}
		// Carrying vectors across an embedder change would mix embeddings
		// from two models inside one version. The changed documents must be
		// re-ingested from the archive instead.
		if activeInfo.EmbedderModel != embedderModel || activeInfo.Dimension != dimension {
			m.logger.Warn("embedder changed, not carrying forward existing chunks",
				"namespace", namespace,
				"active_model", activeInfo.EmbedderModel,
				"active_dimension", activeInfo.Dimension,
				"new_model", embedderModel,
				"new_dimension", dimension)
		} else {
			carried, err = m.q.CarryForward(ctx, namespace, versionID, activeID, supersededSources)
			if err != nil {
				return 0, fmt.Errorf("carrying forward into version %d: %w", versionID, err)
			}
		}
	}

	m.logger.Info("created knowledge version",
		"namespace", namespace,
		"version", versionID,
		"new_chunks", len(entries),
		"carried_chunks", carried)
	return versionID, nil
}

// Activate atomically repoints the namespace's active alias to versionID
// after verifying the candidate. On verification failure the candidate is
// rejected and the previously active version keeps serving unchanged.
// Re-activating an older retained version is how rollback works.
func (m *Manager) Activate(ctx context.Context, namespace string, versionID int64) error {
	lock := m.namespaceLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	info, err := m.q.VersionInfo(ctx, namespace, versionID)
	if err != nil {
		return err
	}

	if err := verify(info); err != nil {
		m.logger.Error("candidate version rejected",
			"namespace", namespace, "version", versionID, "error", err)
		return err
	}

	if err := m.q.SetActiveVersion(ctx, namespace, versionID); err != nil {
		return fmt.Errorf("flipping active alias of %q: %w", namespace, err)
	}

	m.logger.Info("activated knowledge version",
		"namespace", namespace, "version", versionID, "chunks", info.ChunkCount)
	return nil
}

// verify is the pre-activation sanity check: a version must be non-empty and
// carry a plausible embedding dimensionality.
func verify(info VersionInfo) error {
	if info.ChunkCount == 0 {
		return fmt.Errorf("%w: version %d has zero chunks", ErrVerificationFailed, info.ID)
	}
	if info.Dimension <= 0 {
		return fmt.Errorf("%w: version %d has dimension %d", ErrVerificationFailed, info.ID, info.Dimension)
	}
	if info.EmbedderModel == "" {
		return fmt.Errorf("%w: version %d has no embedder model recorded", ErrVerificationFailed, info.ID)
	}
	return nil
}

// ActiveVersion returns metadata for the namespace's active version.
func (m *Manager) ActiveVersion(ctx context.Context, namespace string) (VersionInfo, error) {
	id, ok, err := m.q.ActiveVersionID(ctx, namespace)
	if err != nil {
		return VersionInfo{}, err
	}
	if !ok {
		return VersionInfo{}, fmt.Errorf("%w: namespace %q", ErrNoActiveVersion, namespace)
	}
	info, err := m.q.VersionInfo(ctx, namespace, id)
	if err != nil {
		return VersionInfo{}, err
	}
	info.Active = true
	return info, nil
}

// HasDocument reports whether the active version contains the document.
// A namespace with no active version contains nothing.
func (m *Manager) HasDocument(ctx context.Context, namespace, docID string) (bool, error) {
	return m.q.HasDocument(ctx, namespace, docID)
}

// Query returns the k nearest chunks in the active version. Retrieval is
// read-only and never blocks on an in-progress ingestion; it only contends
// with the single-statement alias flip.
func (m *Manager) Query(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	return m.q.SearchActive(ctx, namespace, vector, k)
}

// ListVersions returns every retained version of the namespace, newest first.
func (m *Manager) ListVersions(ctx context.Context, namespace string) ([]VersionInfo, error) {
	return m.q.ListVersions(ctx, namespace)
}
