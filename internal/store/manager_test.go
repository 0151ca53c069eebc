package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// mockQuerier is an in-memory Querier with per-method call tracking.
type mockQuerier struct {
	mu sync.Mutex

	namespaces map[string]bool
	nextID     map[string]int64
	versions   map[string]VersionInfo // key: ns/id
	chunks     map[string][]Entry     // key: ns/id
	active     map[string]int64

	activateCalls int
	searchErr     error
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{
		namespaces: map[string]bool{},
		nextID:     map[string]int64{},
		versions:   map[string]VersionInfo{},
		chunks:     map[string][]Entry{},
		active:     map[string]int64{},
	}
}

func key(ns string, id int64) string { return fmt.Sprintf("%s/%d", ns, id) }

func (m *mockQuerier) EnsureNamespace(_ context.Context, ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces[ns] = true
	return nil
}

func (m *mockQuerier) AllocateVersion(_ context.Context, ns, model string, dim int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID[ns]++
	id := m.nextID[ns]
	m.versions[key(ns, id)] = VersionInfo{
		Namespace:     ns,
		ID:            id,
		EmbedderModel: model,
		Dimension:     dim,
		CreatedAt:     time.Now(),
	}
	return id, nil
}

func (m *mockQuerier) InsertEntries(_ context.Context, ns string, id int64, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ns, id)
	m.chunks[k] = append(m.chunks[k], entries...)
	info := m.versions[k]
	info.ChunkCount = len(m.chunks[k])
	m.versions[k] = info
	return nil
}

func (m *mockQuerier) CarryForward(_ context.Context, ns string, id, from int64, superseded []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skip := map[string]bool{}
	for _, s := range superseded {
		skip[s] = true
	}
	carried := 0
	k := key(ns, id)
	for _, e := range m.chunks[key(ns, from)] {
		if skip[e.SourcePath] {
			continue
		}
		m.chunks[k] = append(m.chunks[k], e)
		carried++
	}
	info := m.versions[k]
	info.ChunkCount = len(m.chunks[k])
	m.versions[k] = info
	return carried, nil
}

func (m *mockQuerier) VersionInfo(_ context.Context, ns string, id int64) (VersionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.versions[key(ns, id)]
	if !ok {
		return VersionInfo{}, fmt.Errorf("%w: version %d", ErrVersionNotFound, id)
	}
	return info, nil
}

func (m *mockQuerier) ActiveVersionID(_ context.Context, ns string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[ns]
	return id, ok, nil
}

func (m *mockQuerier) SetActiveVersion(_ context.Context, ns string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activateCalls++
	m.active[ns] = id
	return nil
}

func (m *mockQuerier) HasDocument(_ context.Context, ns, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[ns]
	if !ok {
		return false, nil
	}
	for _, e := range m.chunks[key(ns, id)] {
		if e.DocID == docID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockQuerier) SearchActive(_ context.Context, ns string, _ []float32, k int) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	id, ok := m.active[ns]
	if !ok {
		return nil, nil
	}
	var hits []Hit
	for _, e := range m.chunks[key(ns, id)] {
		hits = append(hits, Hit{
			ChunkID: e.ChunkID,
			DocID:   e.DocID,
			Ordinal: e.Ordinal,
			Content: e.Content,
			Score:   0.9,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

func (m *mockQuerier) ListVersions(_ context.Context, ns string) ([]VersionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VersionInfo
	for id := m.nextID[ns]; id >= 1; id-- {
		out = append(out, m.versions[key(ns, id)])
	}
	return out, nil
}

func entriesFor(doc string, n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			ChunkID:    fmt.Sprintf("%s:%d", doc, i),
			DocID:      doc,
			Ordinal:    i,
			Content:    fmt.Sprintf("%s chunk %d", doc, i),
			Embedding:  []float32{1, 0, 0},
			SourcePath: doc + ".md",
		}
	}
	return out
}

func TestCreateAndActivate(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	id, err := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor("doc_1", 2), nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}

	// Not active until Activate.
	if _, err := m.ActiveVersion(ctx, "portfolio"); !errors.Is(err, ErrNoActiveVersion) {
		t.Errorf("ActiveVersion before Activate error = %v, want ErrNoActiveVersion", err)
	}

	if err := m.Activate(ctx, "portfolio", id); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	info, err := m.ActiveVersion(ctx, "portfolio")
	if err != nil {
		t.Fatalf("ActiveVersion() error = %v", err)
	}
	if info.ID != id || !info.Active || info.ChunkCount != 2 {
		t.Errorf("active = %+v, want id=%d active=true chunks=2", info, id)
	}
}

func TestActivateRejectsEmptyVersion(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	// First version becomes active normally.
	v1, err := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor("doc_1", 2), nil)
	if err != nil {
		t.Fatalf("CreateVersion() error = %v", err)
	}
	if err := m.Activate(ctx, "portfolio", v1); err != nil {
		t.Fatalf("Activate(v1) error = %v", err)
	}

	// An empty candidate must be rejected; the old version keeps serving.
	v2, err := m.CreateVersion(ctx, "portfolio", "model-a", 3, nil, []string{"doc_1.md"})
	if err != nil {
		t.Fatalf("CreateVersion(empty) error = %v", err)
	}
	if err := m.Activate(ctx, "portfolio", v2); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("Activate(empty) error = %v, want ErrVerificationFailed", err)
	}

	info, err := m.ActiveVersion(ctx, "portfolio")
	if err != nil {
		t.Fatalf("ActiveVersion() error = %v", err)
	}
	if info.ID != v1 {
		t.Errorf("active version = %d, want the untouched %d", info.ID, v1)
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	m := NewManager(newMockQuerier(), nil)
	if err := m.Activate(context.Background(), "portfolio", 42); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("Activate(unknown) error = %v, want ErrVersionNotFound", err)
	}
}

func TestCreateVersionCarriesForward(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	v1, _ := m.CreateVersion(ctx, "portfolio", "model-a", 3, append(entriesFor("doc_1", 2), entriesFor("doc_2", 1)...), nil)
	if err := m.Activate(ctx, "portfolio", v1); err != nil {
		t.Fatalf("Activate(v1) error = %v", err)
	}

	// New batch supersedes doc_1; doc_2 must be carried into the new version.
	v2, err := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor("doc_1b", 2), []string{"doc_1.md"})
	if err != nil {
		t.Fatalf("CreateVersion(v2) error = %v", err)
	}

	info, err := q.VersionInfo(ctx, "portfolio", v2)
	if err != nil {
		t.Fatalf("VersionInfo(v2) error = %v", err)
	}
	// 2 new chunks plus 1 carried from doc_2.
	if info.ChunkCount != 3 {
		t.Errorf("v2 chunk count = %d, want 3", info.ChunkCount)
	}

	// v1 is immutable: still exactly its original 3 chunks.
	old, _ := q.VersionInfo(ctx, "portfolio", v1)
	if old.ChunkCount != 3 {
		t.Errorf("v1 chunk count changed to %d", old.ChunkCount)
	}
}

func TestCreateVersionSkipsCarryForwardOnEmbedderChange(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	v1, _ := m.CreateVersion(ctx, "portfolio", "model-a", 3, append(entriesFor("doc_1", 2), entriesFor("doc_2", 1)...), nil)
	if err := m.Activate(ctx, "portfolio", v1); err != nil {
		t.Fatalf("Activate(v1) error = %v", err)
	}

	// The embedder model changed between versions. Carrying doc_2's model-a
	// vectors into a model-b version would make its scores meaningless, so
	// the new version must contain only the freshly embedded entries.
	v2, err := m.CreateVersion(ctx, "portfolio", "model-b", 3, entriesFor("doc_1b", 2), []string{"doc_1.md"})
	if err != nil {
		t.Fatalf("CreateVersion(v2) error = %v", err)
	}

	info, err := q.VersionInfo(ctx, "portfolio", v2)
	if err != nil {
		t.Fatalf("VersionInfo(v2) error = %v", err)
	}
	if info.ChunkCount != 2 {
		t.Errorf("v2 chunk count = %d, want only the 2 new chunks", info.ChunkCount)
	}

	// Same model but a different dimension must be treated the same way.
	v3, err := m.CreateVersion(ctx, "portfolio", "model-a", 5, entriesFor("doc_3", 1), nil)
	if err != nil {
		t.Fatalf("CreateVersion(v3) error = %v", err)
	}
	info, err = q.VersionInfo(ctx, "portfolio", v3)
	if err != nil {
		t.Fatalf("VersionInfo(v3) error = %v", err)
	}
	if info.ChunkCount != 1 {
		t.Errorf("v3 chunk count = %d, want only the 1 new chunk", info.ChunkCount)
	}
}

func TestRollbackByActivatingOlderVersion(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	v1, _ := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor("doc_1", 1), nil)
	if err := m.Activate(ctx, "portfolio", v1); err != nil {
		t.Fatalf("Activate(v1) error = %v", err)
	}
	v2, _ := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor("doc_2", 1), nil)
	if err := m.Activate(ctx, "portfolio", v2); err != nil {
		t.Fatalf("Activate(v2) error = %v", err)
	}

	if err := m.Activate(ctx, "portfolio", v1); err != nil {
		t.Fatalf("rollback Activate(v1) error = %v", err)
	}
	info, err := m.ActiveVersion(ctx, "portfolio")
	if err != nil {
		t.Fatalf("ActiveVersion() error = %v", err)
	}
	if info.ID != v1 {
		t.Errorf("active version = %d, want rolled-back %d", info.ID, v1)
	}
}

func TestQueryZeroK(t *testing.T) {
	m := NewManager(newMockQuerier(), nil)
	hits, err := m.Query(context.Background(), "portfolio", []float32{1, 0, 0}, 0)
	if err != nil || hits != nil {
		t.Errorf("Query(k=0) = %v, %v; want nil, nil", hits, err)
	}
}

func TestConcurrentActivation(t *testing.T) {
	ctx := context.Background()
	q := newMockQuerier()
	m := NewManager(q, nil)

	ids := make([]int64, 8)
	for i := range ids {
		id, err := m.CreateVersion(ctx, "portfolio", "model-a", 3, entriesFor(fmt.Sprintf("doc_%d", i), 1), nil)
		if err != nil {
			t.Fatalf("CreateVersion(%d) error = %v", i, err)
		}
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := m.Activate(ctx, "portfolio", id); err != nil {
				t.Errorf("Activate(%d) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	// Whatever ordering won, the final state is one of the candidates and
	// every flip went through the single-statement path.
	info, err := m.ActiveVersion(ctx, "portfolio")
	if err != nil {
		t.Fatalf("ActiveVersion() error = %v", err)
	}
	found := false
	for _, id := range ids {
		if info.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("active version %d is not one of the activated candidates", info.ID)
	}
	if q.activateCalls != len(ids) {
		t.Errorf("SetActiveVersion called %d times, want %d", q.activateCalls, len(ids))
	}
}
