package indexer

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flexigpt/skillregistry-go/compiler"
	"github.com/flexigpt/skillregistry-go/spec"
)

// SkillStore is the subset of store.Store the indexer writes through.
type SkillStore interface {
	WriteSkill(ctx context.Context, sp spec.Spec, audit spec.AuditEvent) error
	WriteSlices(ctx context.Context, skillID string, slices []spec.Slice) error
	WriteEmbedding(ctx context.Context, e spec.Embedding) error
}

// Resolver is the subset of resolver.Resolver the indexer needs to
// materialize a resolved spec for slicing.
type Resolver interface {
	Resolve(ctx context.Context, id string) (spec.ResolvedSpec, error)
	Invalidate(id string)
}

// Options configures a single indexing pass.
type Options struct {
	Roots     []LayerRoot
	Backend   EmbeddingBackend
	Workers   int // 0 selects runtime.NumCPU()-1, floor 1
	BatchSize int // 0 selects a default of 50
}

// Report summarizes one indexing pass.
type Report struct {
	Discovered int
	Indexed    int
	Failed     []FailedCandidate
}

type FailedCandidate struct {
	Path string
	Err  error
}

// Run performs a full indexing pass: discover candidate SKILL.md files,
// parse/validate/compile/write each through a bounded worker pool, then
// resolve + slice + embed each successfully written skill. Per spec.md
// §5, the worker pool is sized to logical cores minus one for CPU-bound
// work. Candidates are processed in batches of BatchSize; a failed
// candidate is recorded in Report.Failed and the other writes of its
// batch stand (no batch is rolled back).
func Run(ctx context.Context, st SkillStore, rs Resolver, opts Options) (Report, error) {
	candidates, err := Discover(opts.Roots)
	if err != nil {
		return Report{}, fmt.Errorf("discover: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	backend := opts.Backend
	if backend == nil {
		backend = NewDeterministicHashBackend(DefaultDims)
	}

	report := Report{Discovered: len(candidates)}
	var mu sync.Mutex

	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(workers)

		for _, c := range batch {
			c := c
			eg.Go(func() error {
				ids, ferr := indexOne(egCtx, st, rs, backend, c)
				mu.Lock()
				defer mu.Unlock()
				if ferr != nil {
					report.Failed = append(report.Failed, FailedCandidate{Path: c.Path, Err: ferr})
					return nil // a single candidate's failure doesn't abort the batch
				}
				report.Indexed++
				for _, id := range ids {
					rs.Invalidate(id)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return report, err
		}
	}

	return report, nil
}

func indexOne(ctx context.Context, st SkillStore, rs Resolver, backend EmbeddingBackend, c Candidate) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	sp, err := compiler.Parse(c.Path, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	sp.Layer = c.Layer
	sp.SourcePath = c.Path

	if err := compiler.Validate(sp); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	if err := st.WriteSkill(ctx, sp, spec.AuditEvent{Op: "index", EntityID: sp.Frontmatter.ID}); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	resolved, err := rs.Resolve(ctx, sp.Frontmatter.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	if !resolved.Servable {
		return []string{sp.Frontmatter.ID}, nil
	}

	compiled := compiler.Compile(resolved.Spec)
	slices := Slice(resolved, NoUsageReinforcement{})
	if err := st.WriteSlices(ctx, sp.Frontmatter.ID, slices); err != nil {
		return nil, fmt.Errorf("write slices: %w", err)
	}

	skillEmbed := EmbedSkill(backend, resolved.Spec, string(compiled.Bytes))
	if err := st.WriteEmbedding(ctx, skillEmbed); err != nil {
		return nil, fmt.Errorf("write embedding: %w", err)
	}
	for _, sl := range slices {
		if err := st.WriteEmbedding(ctx, EmbedSlice(backend, sl)); err != nil {
			return nil, fmt.Errorf("write slice embedding: %w", err)
		}
	}

	return []string{sp.Frontmatter.ID}, nil
}
