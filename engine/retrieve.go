package engine

import (
	"context"
	"time"

	"github.com/flexigpt/skillregistry-go/compiler"
	"github.com/flexigpt/skillregistry-go/packer"
	"github.com/flexigpt/skillregistry-go/retrieval"
	"github.com/flexigpt/skillregistry-go/spec"
	"github.com/flexigpt/skillregistry-go/store"
)

// buildRetrievalIndex snapshots the current store state into an
// in-memory retrieval.Index, per spec.md §5's "retrieval snapshots the
// index at query start" ordering guarantee.
func (e *Engine) buildRetrievalIndex(ctx context.Context, filter store.ListFilter) (retrieval.Index, error) {
	summaries, err := e.Store.List(ctx, filter)
	if err != nil {
		return retrieval.Index{}, err
	}

	lex := retrieval.NewLexicalIndex()
	dense := retrieval.NewDenseIndex(e.Backend.Dims())
	docs := map[string]retrieval.Document{}

	for _, sm := range summaries {
		rs, err := e.Resolver.Resolve(ctx, sm.ID)
		if err != nil {
			if _, missing := err.(*spec.MissingDependency); missing {
				continue
			}
			return retrieval.Index{}, err
		}
		if !rs.Servable {
			continue
		}
		sp := rs.Spec
		compiled := compiler.Compile(sp)
		doc := retrieval.Document{
			ID:           sm.ID,
			Name:         sm.Name,
			Description:  sm.Description,
			Body:         string(compiled.Bytes),
			Tags:         sp.Frontmatter.Tags,
			Layer:        sm.Layer,
			Deprecated:   sm.Deprecated,
			Capabilities: sp.Frontmatter.Provides,
			Requires:     sp.Frontmatter.Requires,
			ModifiedAt:   sm.ModifiedAt,
		}
		docs[sm.ID] = doc
		lex.Index(doc)

		if emb, ok, err := e.Store.GetEmbedding(ctx, sm.ID); err == nil && ok {
			dense.Put(sm.ID, emb.Vector)
		}
	}

	return retrieval.Index{Lexical: lex, Dense: dense, Docs: docs, Aliases: e}, nil
}

// ResolveAlias implements retrieval.AliasResolver by delegating to the
// store's alias table.
func (e *Engine) ResolveAlias(query string) (string, bool) {
	canonical, ok, err := e.Store.ResolveAlias(query)
	if err != nil || !ok {
		return "", false
	}
	return canonical, true
}

// SearchRequest is the engine-level search input.
type SearchRequest struct {
	Query  string
	Filter retrieval.Filter
	TopK   int
}

// Search runs the hybrid lexical/dense retrieval pipeline.
func (e *Engine) Search(ctx context.Context, req SearchRequest) spec.ResultEnvelope {
	idx, err := e.buildRetrievalIndex(ctx, store.ListFilter{IncludeDeprecated: req.Filter.IncludeDeprecated})
	if err != nil {
		return spec.ErrResult(err)
	}
	queryVec := e.Backend.Embed(req.Query)
	results := retrieval.Search(idx, req.Query, queryVec, req.Filter, req.TopK)
	return spec.OK(results)
}

// SuggestRequest augments a search with a context fingerprint and
// resolution context for context-aware scoring.
type SuggestRequest struct {
	Fingerprint spec.ContextFingerprint
	Context     spec.ResolutionContext
	Filter      retrieval.Filter
	TopK        int
	Force       bool
}

// Suggest runs retrieval augmented with context signals, cooldown
// suppression, and (if enabled) bandit-learned signal weights.
func (e *Engine) Suggest(ctx context.Context, req SuggestRequest) spec.ResultEnvelope {
	idx, err := e.buildRetrievalIndex(ctx, store.ListFilter{IncludeDeprecated: req.Filter.IncludeDeprecated})
	if err != nil {
		return spec.ErrResult(err)
	}
	queryVec := e.Backend.Embed(req.Fingerprint.Query)
	weights := e.Bandit.WeightsFor(req.Fingerprint.RepoRoot)

	results := retrieval.Search(idx, req.Fingerprint.Query, queryVec, req.Filter, req.TopK)
	results = applyContextSignals(results, idx.Docs, req.Context, weights)
	results = e.Cooldown.Suppress(req.Fingerprint, results, req.Force, time.Now())

	return spec.OK(results)
}

// Observe records a suggestion outcome for bandit learning.
func (e *Engine) Observe(repoRoot string, weights retrieval.SignalWeights, signal retrieval.SuggestionSignal) {
	e.Bandit.Observe(repoRoot, weights, signal)
}

func applyContextSignals(results []retrieval.Result, docs map[string]retrieval.Document, rctx spec.ResolutionContext, weights retrieval.SignalWeights) []retrieval.Result {
	for i, r := range results {
		doc := docs[r.ID]
		boost := 0.0
		for _, tag := range doc.Tags {
			if contains(rctx.TechStack, tag) {
				boost += weights.TagMatch
			}
		}
		for _, trig := range rctx.TriggerHits {
			if contains(doc.Tags, trig) {
				boost += weights.TriggerKeyword
			}
		}
		results[i].Score += boost
	}
	return results
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// PackRequest packs slices from a set of already-resolved skills.
type PackRequest struct {
	SkillIDs       []string
	Budget         int
	Context        spec.ResolutionContext
	ContractName   string
	AlreadyPresent map[string]bool
}

// Pack resolves each named skill, slices it, and runs the packer solver
// over the combined candidate pool.
func (e *Engine) Pack(ctx context.Context, req PackRequest) spec.ResultEnvelope {
	var candidates []spec.Slice
	for _, id := range req.SkillIDs {
		rs, err := e.Resolver.Resolve(ctx, id)
		if err != nil {
			return spec.ErrResult(err)
		}
		if !rs.Servable {
			continue
		}
		slices, err := e.Store.ListSlices(ctx, id)
		if err != nil {
			return spec.ErrResult(err)
		}
		candidates = append(candidates, slices...)
	}

	var contract *packer.Contract
	if req.ContractName != "" {
		c, ok := packer.NamedContract(req.ContractName)
		if !ok {
			return spec.ErrResult(spec.NewContractUnsatisfiable(req.ContractName, "unknown named contract"))
		}
		contract = &c
	}

	pack, err := packer.Run(packer.Request{
		Slices:         candidates,
		Budget:         req.Budget,
		Context:        req.Context,
		Contract:       contract,
		AlreadyPresent: req.AlreadyPresent,
	})
	if err != nil {
		return spec.ErrResult(err)
	}
	return spec.OK(pack)
}
