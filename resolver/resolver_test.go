package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

type fakeSource struct {
	specs    map[string]spec.Spec
	overlays map[string][]spec.Overlay
}

func (f *fakeSource) GetSpec(_ context.Context, id string) (spec.Spec, bool, error) {
	s, ok := f.specs[id]
	return s, ok, nil
}

func (f *fakeSource) GetOverlays(_ context.Context, id string) ([]spec.Overlay, error) {
	return f.overlays[id], nil
}

func rule(section, content string) spec.Block {
	return spec.Block{Kind: spec.KindRule, Content: content, BlockID: section + ":" + content}
}

func example(section, content string) spec.Block {
	return spec.Block{Kind: spec.KindExample, Content: content, BlockID: section + ":ex:" + content,
		Example: &spec.ExamplePayload{Language: "go", Code: content}}
}

func TestResolveExtendsMergesRulesAndReplacesExamples(t *testing.T) {
	// S2: rust-error extends error-base, adds one rule, replace_example true.
	base := spec.Spec{
		Frontmatter: spec.Frontmatter{ID: "error-base", Name: "Error Base"},
		Sections: []spec.Section{
			{SectionID: "rules", Heading: "Rules", Blocks: []spec.Block{
				rule("rules", "wrap errors"), rule("rules", "never discard"),
			}},
			{SectionID: "examples", Heading: "Examples", Blocks: []spec.Block{
				example("examples", "base example"),
			}},
		},
	}
	child := spec.Spec{
		Frontmatter: spec.Frontmatter{
			ID: "rust-error", Name: "Rust Error", Extends: "error-base",
			Replace: spec.ReplaceFlags{Example: true},
		},
		Sections: []spec.Section{
			{SectionID: "rules", Blocks: []spec.Block{rule("rules", "use thiserror")}},
			{SectionID: "examples", Blocks: []spec.Block{example("examples", "rust example")}},
		},
	}

	src := &fakeSource{specs: map[string]spec.Spec{"error-base": base, "rust-error": child}}
	rs, err := New(src, nil, 64, 0)
	require.NoError(t, err)

	resolved, err := rs.Resolve(context.Background(), "rust-error")
	require.NoError(t, err)

	rulesSec, ok := resolved.Spec.SectionByID("rules")
	require.True(t, ok)
	require.Len(t, rulesSec.Blocks, 3)

	exSec, ok := resolved.Spec.SectionByID("examples")
	require.True(t, ok)
	require.Len(t, exSec.Blocks, 1)
	require.Equal(t, "rust example", exSec.Blocks[0].Content)
}

func TestResolveIncludesWithPrefix(t *testing.T) {
	// S3: `complete` includes `rust-error` into `rules` with prefix "[Rust] ".
	rustErr := spec.Spec{
		Frontmatter: spec.Frontmatter{ID: "rust-error", Name: "Rust Error"},
		Sections: []spec.Section{
			{SectionID: "rules", Blocks: []spec.Block{rule("rules", "use thiserror")}},
		},
	}
	complete := spec.Spec{
		Frontmatter: spec.Frontmatter{
			ID: "complete", Name: "Complete",
			Includes: []spec.IncludeDirective{
				{Skill: "rust-error", Into: "rules", Prefix: "[Rust] ", Position: "append"},
			},
		},
		Sections: []spec.Section{{SectionID: "rules", Heading: "Rules"}},
	}

	src := &fakeSource{specs: map[string]spec.Spec{"rust-error": rustErr, "complete": complete}}
	rs, err := New(src, nil, 64, 0)
	require.NoError(t, err)

	resolved, err := rs.Resolve(context.Background(), "complete")
	require.NoError(t, err)

	rulesSec, ok := resolved.Spec.SectionByID("rules")
	require.True(t, ok)
	require.Len(t, rulesSec.Blocks, 1)
	require.Contains(t, rulesSec.Blocks[0].Content, "[Rust] ")
}

func TestResolveCycleDetection(t *testing.T) {
	// S4: a extends b; b extends a.
	a := spec.Spec{Frontmatter: spec.Frontmatter{ID: "a", Name: "A", Extends: "b"}}
	b := spec.Spec{Frontmatter: spec.Frontmatter{ID: "b", Name: "B", Extends: "a"}}
	src := &fakeSource{specs: map[string]spec.Spec{"a": a, "b": b}}
	rs, err := New(src, nil, 64, 0)
	require.NoError(t, err)

	_, err = rs.Resolve(context.Background(), "a")
	require.Error(t, err)
	cyc, ok := err.(*spec.CyclicComposition)
	require.True(t, ok, "expected CyclicComposition, got %T: %v", err, err)
	require.Contains(t, cyc.Cycle, "a")
	require.Contains(t, cyc.Cycle, "b")
}

func TestResolveMissingDependency(t *testing.T) {
	child := spec.Spec{Frontmatter: spec.Frontmatter{ID: "child", Name: "Child", Extends: "ghost"}}
	src := &fakeSource{specs: map[string]spec.Spec{"child": child}}
	rs, err := New(src, nil, 64, 0)
	require.NoError(t, err)

	_, err = rs.Resolve(context.Background(), "child")
	require.Error(t, err)
	_, ok := err.(*spec.MissingDependency)
	require.True(t, ok, "expected MissingDependency, got %T", err)
}

func TestResolveDepthExceeded(t *testing.T) {
	specs := map[string]spec.Spec{}
	prev := ""
	for i := 0; i < 20; i++ {
		id := "s" + string(rune('a'+i))
		fm := spec.Frontmatter{ID: id, Name: id}
		if prev != "" {
			fm.Extends = prev
		}
		specs[id] = spec.Spec{Frontmatter: fm}
		prev = id
	}
	src := &fakeSource{specs: specs}
	rs, err := New(src, nil, 64, 4)
	require.NoError(t, err)

	_, err = rs.Resolve(context.Background(), prev)
	require.Error(t, err)
	_, ok := err.(*spec.DepthExceeded)
	require.True(t, ok, "expected DepthExceeded, got %T: %v", err, err)
}

func TestInvalidateDropsDependentCacheEntries(t *testing.T) {
	base := spec.Spec{Frontmatter: spec.Frontmatter{ID: "base", Name: "Base"}}
	child := spec.Spec{Frontmatter: spec.Frontmatter{ID: "child", Name: "Child", Extends: "base"}}
	src := &fakeSource{specs: map[string]spec.Spec{"base": base, "child": child}}
	rs, err := New(src, nil, 64, 0)
	require.NoError(t, err)

	_, err = rs.Resolve(context.Background(), "child")
	require.NoError(t, err)

	_, found := rs.lruGet("child")
	require.True(t, found)

	rs.Invalidate("base")

	_, found = rs.lruGet("child")
	require.False(t, found, "resolve cache entry depending on base must be invalidated")
}

type fakePersistent struct {
	byKey    map[string]spec.ResolvedSpec
	pointers map[string]spec.CachePointer
	getCalls int
	putCalls int
}

func newFakePersistent() *fakePersistent {
	return &fakePersistent{byKey: map[string]spec.ResolvedSpec{}, pointers: map[string]spec.CachePointer{}}
}

func (f *fakePersistent) Get(_ context.Context, resolveKey string) (spec.ResolvedSpec, bool, error) {
	f.getCalls++
	rs, ok := f.byKey[resolveKey]
	return rs, ok, nil
}

func (f *fakePersistent) Put(_ context.Context, resolveKey string, rs spec.ResolvedSpec) error {
	f.putCalls++
	f.byKey[resolveKey] = rs
	return nil
}

func (f *fakePersistent) GetPointer(_ context.Context, id string) (spec.CachePointer, bool, error) {
	ptr, ok := f.pointers[id]
	return ptr, ok, nil
}

func (f *fakePersistent) PutPointer(_ context.Context, id string, ptr spec.CachePointer) error {
	f.pointers[id] = ptr
	return nil
}

func TestColdStartProbeServesUnchangedSkillFromPersistentTier(t *testing.T) {
	base := spec.Spec{Frontmatter: spec.Frontmatter{ID: "base", Name: "Base"}}
	child := spec.Spec{Frontmatter: spec.Frontmatter{ID: "child", Name: "Child", Extends: "base"}}
	src := &fakeSource{specs: map[string]spec.Spec{"base": base, "child": child}}
	fp := newFakePersistent()

	warm, err := New(src, fp, 64, 0)
	require.NoError(t, err)
	first, err := warm.Resolve(context.Background(), "child")
	require.NoError(t, err)
	require.Equal(t, 1, fp.putCalls)

	// A fresh resolver simulates a cold start: no in-memory state, but the
	// persistent tier (and its pointer row) survived.
	cold, err := New(src, fp, 64, 0)
	require.NoError(t, err)
	second, err := cold.Resolve(context.Background(), "child")
	require.NoError(t, err)

	require.Equal(t, first.ResolveKey, second.ResolveKey)
	// The cold resolver never needed resolveUncached's full walk: no new
	// Put, since the probe served the result straight from fp.byKey.
	require.Equal(t, 1, fp.putCalls, "cold start should not recompute an unchanged resolve")
}

func TestColdStartProbeMissesWhenDependencyChanged(t *testing.T) {
	base := spec.Spec{Frontmatter: spec.Frontmatter{ID: "base", Name: "Base"}}
	child := spec.Spec{Frontmatter: spec.Frontmatter{ID: "child", Name: "Child", Extends: "base"}}
	src := &fakeSource{specs: map[string]spec.Spec{"base": base, "child": child}}
	fp := newFakePersistent()

	warm, err := New(src, fp, 64, 0)
	require.NoError(t, err)
	first, err := warm.Resolve(context.Background(), "child")
	require.NoError(t, err)

	// base changes after the pointer was recorded.
	src.specs["base"] = spec.Spec{Frontmatter: spec.Frontmatter{ID: "base", Name: "Base v2"}}

	cold, err := New(src, fp, 64, 0)
	require.NoError(t, err)
	second, err := cold.Resolve(context.Background(), "child")
	require.NoError(t, err)

	require.NotEqual(t, first.ResolveKey, second.ResolveKey, "changed dependency must produce a new resolve_key")
	require.Equal(t, 2, fp.putCalls, "a changed dependency must force a full recompute and re-Put")
}
