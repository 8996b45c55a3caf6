// Package engine is the top-level facade wiring the spec/compiler/
// resolver/store/indexer/retrieval/packer components into the
// operation identifiers spec.md §6 names: resolve, search, suggest,
// load, pack, index, write, delete, status.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/flexigpt/skillregistry-go/compiler"
	"github.com/flexigpt/skillregistry-go/indexer"
	"github.com/flexigpt/skillregistry-go/resolver"
	"github.com/flexigpt/skillregistry-go/retrieval"
	"github.com/flexigpt/skillregistry-go/spec"
	"github.com/flexigpt/skillregistry-go/store"
)

// Engine holds every wired component. Construct via New.
type Engine struct {
	Store    *store.Store
	Resolver *resolver.Resolver
	Backend  indexer.EmbeddingBackend
	Bandit   *retrieval.Bandit
	Cooldown *retrieval.CooldownTracker
	Roots    []indexer.LayerRoot
	Log      zerolog.Logger
}

// Options configures a new Engine.
type Options struct {
	Store              store.Options
	CacheCapacity      int
	MaxDepth           int
	Roots              []indexer.LayerRoot
	EmbeddingBackend   indexer.EmbeddingBackend
	BanditEpsilon      float64
	BanditEnabled      bool
	SuggestionCooldown time.Duration
}

func New(ctx context.Context, opts Options) (*Engine, error) {
	st, err := store.Open(ctx, opts.Store)
	if err != nil {
		return nil, err
	}
	res, err := resolver.New(st, st, opts.CacheCapacity, opts.MaxDepth)
	if err != nil {
		return nil, err
	}
	backend := opts.EmbeddingBackend
	if backend == nil {
		backend = indexer.NewDeterministicHashBackend(indexer.DefaultDims)
	}
	cooldown := opts.SuggestionCooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &Engine{
		Store:    st,
		Resolver: res,
		Backend:  backend,
		Bandit:   retrieval.NewBandit(opts.BanditEpsilon, opts.BanditEnabled),
		Cooldown: retrieval.NewCooldownTracker(cooldown),
		Roots:    opts.Roots,
		Log:      opts.Store.Logger,
	}, nil
}

func (e *Engine) Close() error { return e.Store.Close() }

// Index runs a full indexing pass over the configured layer roots.
func (e *Engine) Index(ctx context.Context) spec.ResultEnvelope {
	report, err := indexer.Run(ctx, e.Store, e.Resolver, indexer.Options{Roots: e.Roots, Backend: e.Backend})
	if err != nil {
		return spec.ErrResult(err)
	}
	var warnings []string
	for _, f := range report.Failed {
		warnings = append(warnings, f.Path+": "+f.Err.Error())
	}
	return spec.OK(report, warnings...)
}

// Resolve materializes a skill's fully composed spec.
func (e *Engine) Resolve(ctx context.Context, id string) spec.ResultEnvelope {
	rs, err := e.Resolver.Resolve(ctx, id)
	if err != nil {
		return spec.ErrResult(err)
	}
	return spec.OK(rs)
}

// Write upserts a single skill source.
func (e *Engine) Write(ctx context.Context, path string, src []byte, layer string, audit spec.AuditEvent) spec.ResultEnvelope {
	sp, err := compiler.Parse(path, src)
	if err != nil {
		return spec.ErrResult(err)
	}
	sp.Layer = layer
	sp.SourcePath = path
	if err := compiler.Validate(sp); err != nil {
		return spec.ErrResult(err)
	}
	if err := e.Store.WriteSkill(ctx, sp, audit); err != nil {
		return spec.ErrResult(err)
	}
	e.Resolver.Invalidate(sp.Frontmatter.ID)
	return spec.OK(spec.SkillSummary{ID: sp.Frontmatter.ID, Name: sp.Frontmatter.Name, Description: sp.Frontmatter.Description, Layer: layer})
}

// Delete marks a skill deprecated and writes an archive tombstone.
func (e *Engine) Delete(ctx context.Context, id string, audit spec.AuditEvent) spec.ResultEnvelope {
	if err := e.Store.DeleteSkill(ctx, id, audit); err != nil {
		return spec.ErrResult(err)
	}
	e.Resolver.Invalidate(id)
	return spec.OK(map[string]string{"id": id, "status": "deprecated"})
}

// Load compiles a resolved skill to its canonical markdown view.
func (e *Engine) Load(ctx context.Context, id string) spec.ResultEnvelope {
	rs, err := e.Resolver.Resolve(ctx, id)
	if err != nil {
		return spec.ErrResult(err)
	}
	view := compiler.Compile(rs.Spec)
	return spec.OK(view)
}

// Status reports the registry's listing, per spec.md's `status` operation.
func (e *Engine) Status(ctx context.Context, filter store.ListFilter) spec.ResultEnvelope {
	list, err := e.Store.List(ctx, filter)
	if err != nil {
		return spec.ErrResult(err)
	}
	return spec.OK(list)
}

// Doctor reconciles any incomplete two-phase-commit transactions.
func (e *Engine) Doctor(ctx context.Context, fix bool) spec.ResultEnvelope {
	report, err := store.Doctor(ctx, e.Store, fix)
	if err != nil {
		return spec.ErrResult(err)
	}
	return spec.OK(report)
}
