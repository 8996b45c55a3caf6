package retrieval

import (
	"sort"
	"time"
)

const DefaultRRFConstant = 60

// AliasResolver maps a query string to a canonical skill id when it
// exactly matches a known alias.
type AliasResolver interface {
	ResolveAlias(query string) (canonicalID string, ok bool)
}

// Index bundles the lexical and dense indices plus the document catalog
// needed for filtering and tie-breaking.
type Index struct {
	Lexical *LexicalIndex
	Dense   *DenseIndex
	Docs    map[string]Document
	Aliases AliasResolver
}

// Search runs the full spec.md §4.5 pipeline: alias rewrite, filter,
// lexical/dense top-K, reciprocal rank fusion, deterministic tie-break.
func Search(idx Index, query string, queryVec []float32, filter Filter, topK int) []Result {
	rewrittenFrom := ""
	aliasRewritten := false
	effectiveQuery := query
	if idx.Aliases != nil {
		if canonical, ok := idx.Aliases.ResolveAlias(query); ok {
			rewrittenFrom = query
			aliasRewritten = true
			effectiveQuery = canonical
		}
	}

	allowed := allowedSet(idx.Docs, filter)

	lexResults := filterResults(idx.Lexical.TopK(effectiveQuery, 0), allowed)
	denseResults := filterResults(idx.Dense.TopK(queryVec, 0), allowed)

	fused := fuse(lexResults, denseResults, idx.Docs, DefaultRRFConstant)

	if aliasRewritten {
		for i := range fused {
			if fused[i].ID == effectiveQuery {
				fused[i].AliasRewritten = true
				fused[i].RewrittenFrom = rewrittenFrom
			}
		}
	}

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

func allowedSet(docs map[string]Document, filter Filter) map[string]bool {
	allowed := map[string]bool{}
	for id, d := range docs {
		if !filter.IncludeDeprecated && d.Deprecated {
			continue
		}
		if filter.Layer != "" && d.Layer != filter.Layer {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(d.Tags, filter.Tags) {
			continue
		}
		if filter.Capability != "" && !contains(d.Capabilities, filter.Capability) {
			continue
		}
		allowed[id] = true
	}
	return allowed
}

func hasAllTags(have, want []string) bool {
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func filterResults(results []Result, allowed map[string]bool) []Result {
	out := results[:0:0]
	for _, r := range results {
		if allowed[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// fuse computes reciprocal rank fusion: score(d) = Σ 1/(k+rank_i(d))
// across participating indices, sorted descending, ties broken by
// newer modified_at then by id.
func fuse(lex, dense []Result, docs map[string]Document, k int) []Result {
	byID := map[string]*Result{}
	for _, r := range lex {
		byID[r.ID] = &Result{ID: r.ID, LexicalRank: r.LexicalRank}
	}
	for _, r := range dense {
		if existing, ok := byID[r.ID]; ok {
			existing.DenseRank = r.DenseRank
		} else {
			byID[r.ID] = &Result{ID: r.ID, DenseRank: r.DenseRank}
		}
	}

	out := make([]Result, 0, len(byID))
	for _, r := range byID {
		score := 0.0
		if r.LexicalRank > 0 {
			score += 1.0 / float64(k+r.LexicalRank)
		}
		if r.DenseRank > 0 {
			score += 1.0 / float64(k+r.DenseRank)
		}
		r.Score = score
		out = append(out, *r)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		mi, mj := modifiedAt(docs, out[i].ID), modifiedAt(docs, out[j].ID)
		if !mi.Equal(mj) {
			return mi.After(mj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func modifiedAt(docs map[string]Document, id string) time.Time {
	return docs[id].ModifiedAt
}
