package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/indexer"
	"github.com/flexigpt/skillregistry-go/packer"
	"github.com/flexigpt/skillregistry-go/retrieval"
	"github.com/flexigpt/skillregistry-go/spec"
	"github.com/flexigpt/skillregistry-go/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := New(context.Background(), Options{
		Store: store.Options{
			DBPath:      filepath.Join(dir, "registry.db"),
			ArchiveRoot: filepath.Join(dir, "archive"),
			LockPath:    filepath.Join(dir, "registry.lock"),
			LayerOrder:  []string{"base", "community", "org", "project", "user"},
			GracePeriod: 5 * time.Second,
			Logger:      zerolog.Nop(),
		},
		CacheCapacity: 64,
		MaxDepth:      8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

const errorBaseSrc = `---
id: error-base
name: Error Base
description: Base error-handling conventions.
version: 1.0.0
tags: [errors, go]
---

# Rules

@policy
Never swallow an error silently.

@rule
Always wrap errors with context.
`

const httpClientSrc = `---
id: http-client
name: HTTP Client
description: Conventions for writing HTTP clients.
version: 1.0.0
tags: [http, go]
---

# Rules

@policy
Always set a request timeout.

@pitfall
Forgetting to close the response body leaks connections.
`

func TestWriteResolveLoadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{Op: "write", EntityID: "error-base"})
	require.Equal(t, "ok", res.Status)

	res = e.Resolve(ctx, "error-base")
	require.Equal(t, "ok", res.Status)
	rs, ok := res.Data.(spec.ResolvedSpec)
	require.True(t, ok)
	require.True(t, rs.Servable)

	res = e.Load(ctx, "error-base")
	require.Equal(t, "ok", res.Status)
}

func TestWriteMalformedSourceFails(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res := e.Write(ctx, "skills/bad/SKILL.md", []byte("not frontmatter at all"), "project", spec.AuditEvent{})
	require.Equal(t, "error", res.Status)
}

func TestDeleteMarksDeprecatedAndHidesFromDefaultStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.Equal(t, "ok", e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{}).Status)
	require.Equal(t, "ok", e.Delete(ctx, "error-base", spec.AuditEvent{Op: "delete", EntityID: "error-base"}).Status)

	res := e.Status(ctx, store.ListFilter{})
	require.Equal(t, "ok", res.Status)
	list, ok := res.Data.([]spec.SkillSummary)
	require.True(t, ok)
	require.Empty(t, list)

	resAll := e.Status(ctx, store.ListFilter{IncludeDeprecated: true})
	listAll := resAll.Data.([]spec.SkillSummary)
	require.Len(t, listAll, 1)
	require.True(t, listAll[0].Deprecated)
}

func TestSearchFindsWrittenSkill(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.Equal(t, "ok", e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{}).Status)
	require.Equal(t, "ok", e.Write(ctx, "skills/http-client/SKILL.md", []byte(httpClientSrc), "project", spec.AuditEvent{}).Status)

	res := e.Search(ctx, SearchRequest{Query: "response body leaks", TopK: 5})
	require.Equal(t, "ok", res.Status)
	results, ok := res.Data.([]retrieval.Result)
	require.True(t, ok)
	require.NotEmpty(t, results)
	require.Equal(t, "http-client", results[0].ID)
}

func TestSuggestAppliesCooldownSuppression(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.Equal(t, "ok", e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{}).Status)

	fp := spec.ContextFingerprint{RepoRoot: "/repo", VCSHead: "abc123", Query: "error handling"}
	first := e.Suggest(ctx, SuggestRequest{Fingerprint: fp, TopK: 5})
	require.Equal(t, "ok", first.Status)
	firstResults := first.Data.([]retrieval.Result)
	require.NotEmpty(t, firstResults)

	second := e.Suggest(ctx, SuggestRequest{Fingerprint: fp, TopK: 5})
	secondResults := second.Data.([]retrieval.Result)
	require.Empty(t, secondResults, "repeat suggestion within cooldown window should be suppressed")

	forced := e.Suggest(ctx, SuggestRequest{Fingerprint: fp, TopK: 5, Force: true})
	forcedResults := forced.Data.([]retrieval.Result)
	require.NotEmpty(t, forcedResults, "forced suggestion bypasses cooldown")
}

func TestPackPullsSlicesFromResolvedSkills(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngineWithRoots(t, []indexer.LayerRoot{{Layer: "project", Root: dir}})
	ctx := context.Background()

	skillDir := filepath.Join(dir, "error-base")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(errorBaseSrc), 0o644))

	require.Equal(t, "ok", e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{}).Status)
	require.Equal(t, "ok", e.Index(ctx).Status)

	res := e.Pack(ctx, PackRequest{SkillIDs: []string{"error-base"}, Budget: 1000})
	require.Equal(t, "ok", res.Status)
	pack, ok := res.Data.(packer.Pack)
	require.True(t, ok)
	require.NotEmpty(t, pack.Slices)
}

func TestPackUnknownContractErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.Equal(t, "ok", e.Write(ctx, "skills/error-base/SKILL.md", []byte(errorBaseSrc), "project", spec.AuditEvent{}).Status)

	res := e.Pack(ctx, PackRequest{SkillIDs: []string{"error-base"}, Budget: 1000, ContractName: "not-a-real-contract"})
	require.Equal(t, "error", res.Status)
}

func TestIndexDiscoversFromConfiguredRoots(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngineWithRoots(t, []indexer.LayerRoot{{Layer: "project", Root: dir}})
	ctx := context.Background()

	skillDir := filepath.Join(dir, "error-base")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(errorBaseSrc), 0o644))

	res := e.Index(ctx)
	require.Equal(t, "ok", res.Status)
	report := res.Data.(indexer.Report)
	require.Equal(t, 1, report.Discovered)
	require.Equal(t, 1, report.Indexed)

	resolveRes := e.Resolve(ctx, "error-base")
	require.Equal(t, "ok", resolveRes.Status)
}

func TestDoctorReportsCleanStore(t *testing.T) {
	e := newTestEngine(t)
	res := e.Doctor(context.Background(), false)
	require.Equal(t, "ok", res.Status)
}

func newTestEngineWithRoots(t *testing.T, roots []indexer.LayerRoot) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := New(context.Background(), Options{
		Store: store.Options{
			DBPath:      filepath.Join(dir, "registry.db"),
			ArchiveRoot: filepath.Join(dir, "archive"),
			LockPath:    filepath.Join(dir, "registry.lock"),
			LayerOrder:  []string{"base", "community", "org", "project", "user"},
			GracePeriod: 5 * time.Second,
			Logger:      zerolog.Nop(),
		},
		CacheCapacity: 64,
		MaxDepth:      8,
		Roots:         roots,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}
