package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Options{
		DBPath:      filepath.Join(dir, "registry.db"),
		ArchiveRoot: filepath.Join(dir, "archive"),
		LockPath:    filepath.Join(dir, "registry.lock"),
		LayerOrder:  []string{"base", "community", "org", "project", "user"},
		GracePeriod: 5 * time.Second,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSpec(id string) spec.Spec {
	return spec.Spec{
		Frontmatter: spec.Frontmatter{ID: id, Name: id, Description: "a test skill"},
		Sections: []spec.Section{
			{SectionID: "rules", Heading: "Rules", Blocks: []spec.Block{
				{BlockID: "b1", Kind: spec.KindRule, Content: "always test\n"},
			}},
		},
		Layer:      "project",
		SourcePath: "skills/" + id + "/spec.md",
	}
}

func TestWriteAndGetSkillRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp := sampleSpec("error-base")
	require.NoError(t, s.WriteSkill(ctx, sp, spec.AuditEvent{Op: "write", EntityID: "error-base"}))

	got, ok, err := s.GetSkill(ctx, "error-base")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "error-base", got.Frontmatter.ID)
	require.Len(t, got.Sections, 1)
}

func TestListExcludesDeprecatedByDefault(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSkill(ctx, sampleSpec("a"), spec.AuditEvent{}))
	require.NoError(t, s.WriteSkill(ctx, sampleSpec("b"), spec.AuditEvent{}))
	require.NoError(t, s.DeleteSkill(ctx, "b", spec.AuditEvent{}))

	list, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "a", list[0].ID)

	listAll, err := s.List(ctx, ListFilter{IncludeDeprecated: true})
	require.NoError(t, err)
	require.Len(t, listAll, 2)
}

func TestAliasCollisionWithPrimaryIDRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteSkill(ctx, sampleSpec("taken"), spec.AuditEvent{}))

	bad := sampleSpec("new-skill")
	bad.Frontmatter.Aliases = []string{"taken"}
	err := s.WriteSkill(ctx, bad, spec.AuditEvent{})
	require.Error(t, err)
}

func TestOverlaysReturnedInLayerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteOverlay(ctx, "x", spec.Overlay{Layer: "user", Ops: []spec.OverlayOp{{Kind: spec.OpRemove, BlockID: "b1"}}}))
	require.NoError(t, s.WriteOverlay(ctx, "x", spec.Overlay{Layer: "org", Ops: []spec.OverlayOp{{Kind: spec.OpRemove, BlockID: "b2"}}}))

	got, err := s.GetOverlays(ctx, "x")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "org", got[0].Layer)
	require.Equal(t, "user", got[1].Layer)
}

func TestResolvedCacheTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rs := spec.ResolvedSpec{Spec: sampleSpec("cached"), ResolveKey: "k1", Servable: true}
	require.NoError(t, s.Put(ctx, "k1", rs))

	got, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cached", got.Spec.Frontmatter.ID)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolvePointerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ptr := spec.CachePointer{
		ResolveKey:  "k1",
		DepHashes:   map[string]string{"cached": "h1", "base": "h2"},
		Fingerprint: "org:1",
	}
	require.NoError(t, s.PutPointer(ctx, "cached", ptr))

	got, ok, err := s.GetPointer(ctx, "cached")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ptr.ResolveKey, got.ResolveKey)
	require.Equal(t, ptr.DepHashes, got.DepHashes)
	require.Equal(t, ptr.Fingerprint, got.Fingerprint)

	_, ok, err = s.GetPointer(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	// overwrite
	ptr.ResolveKey = "k2"
	require.NoError(t, s.PutPointer(ctx, "cached", ptr))
	got, _, err = s.GetPointer(ctx, "cached")
	require.NoError(t, err)
	require.Equal(t, "k2", got.ResolveKey)
}

func TestDoctorReportsCleanWhenNoOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteSkill(ctx, sampleSpec("clean"), spec.AuditEvent{}))

	report, err := Doctor(ctx, s, false)
	require.NoError(t, err)
	require.True(t, report.Clean)
}
