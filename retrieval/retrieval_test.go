package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

func buildIndex() Index {
	docs := map[string]Document{
		"error-base": {
			ID: "error-base", Name: "Error Base", Description: "Base error-handling conventions.",
			Body: "always wrap errors with context never discard errors silently", Tags: []string{"errors"},
			Layer: "base", ModifiedAt: time.Now().Add(-time.Hour),
		},
		"http-client": {
			ID: "http-client", Name: "HTTP Client", Description: "Conventions for HTTP client code.",
			Body: "use context timeouts retry idempotent requests", Tags: []string{"http", "networking"},
			Layer: "base", ModifiedAt: time.Now(),
		},
		"deprecated-skill": {
			ID: "deprecated-skill", Name: "Old Skill", Description: "no longer used",
			Body: "legacy content", Tags: []string{"legacy"}, Layer: "base", Deprecated: true,
		},
	}

	lex := NewLexicalIndex()
	dense := NewDenseIndex(4)
	vectors := map[string][]float32{
		"error-base":       {1, 0, 0, 0},
		"http-client":      {0, 1, 0, 0},
		"deprecated-skill": {1, 0, 0, 0},
	}
	for id, d := range docs {
		lex.Index(d)
		dense.Put(id, vectors[id])
	}
	return Index{Lexical: lex, Dense: dense, Docs: docs}
}

func TestSearchRanksLexicalMatchHighest(t *testing.T) {
	idx := buildIndex()
	results := Search(idx, "errors wrap context", []float32{1, 0, 0, 0}, Filter{}, 10)
	require.NotEmpty(t, results)
	require.Equal(t, "error-base", results[0].ID)
}

func TestSearchExcludesDeprecatedByDefault(t *testing.T) {
	idx := buildIndex()
	results := Search(idx, "legacy", []float32{1, 0, 0, 0}, Filter{}, 10)
	for _, r := range results {
		require.NotEqual(t, "deprecated-skill", r.ID)
	}
}

func TestSearchIncludesDeprecatedWhenRequested(t *testing.T) {
	idx := buildIndex()
	results := Search(idx, "legacy content", []float32{1, 0, 0, 0}, Filter{IncludeDeprecated: true}, 10)
	found := false
	for _, r := range results {
		if r.ID == "deprecated-skill" {
			found = true
		}
	}
	require.True(t, found)
}

func TestSearchFiltersByTag(t *testing.T) {
	idx := buildIndex()
	results := Search(idx, "", []float32{0, 1, 0, 0}, Filter{Tags: []string{"networking"}}, 10)
	require.Len(t, results, 1)
	require.Equal(t, "http-client", results[0].ID)
}

func TestSearchDeterministicForIdenticalInputs(t *testing.T) {
	idx := buildIndex()
	a := Search(idx, "errors", []float32{1, 0, 0, 0}, Filter{}, 10)
	b := Search(idx, "errors", []float32{1, 0, 0, 0}, Filter{}, 10)
	require.Equal(t, a, b)
}

type fakeAliases struct{ m map[string]string }

func (f fakeAliases) ResolveAlias(q string) (string, bool) {
	v, ok := f.m[q]
	return v, ok
}

func TestSearchRewritesExactAliasMatch(t *testing.T) {
	idx := buildIndex()
	idx.Aliases = fakeAliases{m: map[string]string{"err-base": "error-base"}}
	results := Search(idx, "err-base", []float32{1, 0, 0, 0}, Filter{}, 10)
	require.NotEmpty(t, results)
	require.Equal(t, "error-base", results[0].ID)
	require.True(t, results[0].AliasRewritten)
	require.Equal(t, "err-base", results[0].RewrittenFrom)
}

func TestFuzzyMatchFindsPartialName(t *testing.T) {
	docs := []Document{
		{ID: "error-base", Name: "Error Base"},
		{ID: "http-client", Name: "HTTP Client"},
	}
	results := FuzzyMatch(docs, "errbse")
	require.NotEmpty(t, results)
	require.Equal(t, "error-base", results[0].ID)
}

func TestCooldownSuppressesOverlapWithinWindow(t *testing.T) {
	tracker := NewCooldownTracker(time.Minute)
	fp := spec.ContextFingerprint{RepoRoot: "/repo", VCSHead: "abc"}
	now := time.Now()

	first := []Result{{ID: "a"}, {ID: "b"}}
	out1 := tracker.Suppress(fp, first, false, now)
	require.Len(t, out1, 2)

	second := []Result{{ID: "a"}, {ID: "c"}}
	out2 := tracker.Suppress(fp, second, false, now.Add(time.Second))
	require.Len(t, out2, 1)
	require.Equal(t, "c", out2[0].ID)
}

func TestCooldownForceBypassesSuppression(t *testing.T) {
	tracker := NewCooldownTracker(time.Minute)
	fp := spec.ContextFingerprint{RepoRoot: "/repo", VCSHead: "abc"}
	now := time.Now()

	tracker.Suppress(fp, []Result{{ID: "a"}}, false, now)
	out := tracker.Suppress(fp, []Result{{ID: "a"}}, true, now.Add(time.Second))
	require.Len(t, out, 1)
}

func TestBanditDisabledReturnsDefaultWeights(t *testing.T) {
	b := NewBandit(0.1, false)
	w := b.WeightsFor("/repo")
	require.Equal(t, DefaultSignalWeights(), w)
}

func TestBanditObserveNudgesWeightsOnSuccess(t *testing.T) {
	b := NewBandit(0, true) // epsilon 0: deterministic exploitation
	base := DefaultSignalWeights()
	b.Observe("/repo", base, SignalSuccess)
	w := b.WeightsFor("/repo")
	require.Greater(t, w.TagMatch, base.TagMatch)
}
