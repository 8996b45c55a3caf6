package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

type fakeStore struct {
	mu         sync.Mutex
	written    map[string]spec.Spec
	slices     map[string][]spec.Slice
	embeddings []spec.Embedding
}

func newFakeStore() *fakeStore {
	return &fakeStore{written: map[string]spec.Spec{}, slices: map[string][]spec.Slice{}}
}

func (f *fakeStore) WriteSkill(_ context.Context, sp spec.Spec, _ spec.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[sp.Frontmatter.ID] = sp
	return nil
}

func (f *fakeStore) WriteSlices(_ context.Context, skillID string, slices []spec.Slice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slices[skillID] = slices
	return nil
}

func (f *fakeStore) WriteEmbedding(_ context.Context, e spec.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings = append(f.embeddings, e)
	return nil
}

type fakeResolver struct {
	mu          sync.Mutex
	store       *fakeStore
	invalidated []string
}

func (r *fakeResolver) Resolve(_ context.Context, id string) (spec.ResolvedSpec, error) {
	r.store.mu.Lock()
	sp, ok := r.store.written[id]
	r.store.mu.Unlock()
	if !ok {
		return spec.ResolvedSpec{}, spec.NewMissingDependency("", id)
	}
	return spec.ResolvedSpec{Spec: sp, ResolveKey: "k-" + id, Servable: true}, nil
}

func (r *fakeResolver) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, id)
}

const fixtureSrc = `---
id: error-base
name: Error Base
description: Base error-handling conventions.
version: 1.0.0
---

# Rules

@rule
Always wrap errors with context.
`

func TestRunIndexesDiscoveredSkill(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "error-base")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, skillFileName), []byte(fixtureSrc), 0o644))

	st := newFakeStore()
	rs := &fakeResolver{store: st}

	report, err := Run(context.Background(), st, rs, Options{
		Roots: []LayerRoot{{Layer: "project", Root: root}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.Discovered)
	require.Equal(t, 1, report.Indexed)
	require.Empty(t, report.Failed)

	require.Contains(t, st.written, "error-base")
	require.Len(t, st.slices["error-base"], 1)
	require.NotEmpty(t, st.embeddings)
	require.Contains(t, rs.invalidated, "error-base")
}

func TestRunCollectsFailuresWithoutAbortingBatch(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "good")
	bad := filepath.Join(root, "bad")
	require.NoError(t, os.MkdirAll(good, 0o755))
	require.NoError(t, os.MkdirAll(bad, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(good, skillFileName), []byte(fixtureSrc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bad, skillFileName), []byte("not frontmatter at all"), 0o644))

	st := newFakeStore()
	rs := &fakeResolver{store: st}

	report, err := Run(context.Background(), st, rs, Options{
		Roots: []LayerRoot{{Layer: "project", Root: root}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Discovered)
	require.Equal(t, 1, report.Indexed)
	require.Len(t, report.Failed, 1)
}
