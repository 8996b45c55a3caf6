// Package spec defines the skill data model shared by the compiler,
// resolver, indexer, retrieval, and packer components: the source-of-truth
// specification, its compiled view, and the derived slices retrieval and
// packing operate on.
package spec

import "time"

// BlockKind tags the variant payload a Block carries.
type BlockKind string

const (
	KindRule          BlockKind = "rule"
	KindExample       BlockKind = "example"
	KindPitfall       BlockKind = "pitfall"
	KindChecklistItem BlockKind = "checklist_item"
	KindContext       BlockKind = "context"
	KindPolicy        BlockKind = "policy"
	KindCommand       BlockKind = "command"
	KindReference     BlockKind = "reference"
)

// ValidBlockKinds lists every recognized block kind, policy first. The
// compiler does not depend on this order.
var ValidBlockKinds = []BlockKind{
	KindPolicy, KindRule, KindPitfall, KindExample, KindChecklistItem,
	KindContext, KindCommand, KindReference,
}

func (k BlockKind) Valid() bool {
	for _, v := range ValidBlockKinds {
		if v == k {
			return true
		}
	}
	return false
}

// ExamplePayload is the payload for KindExample blocks.
type ExamplePayload struct {
	Language string
	Code     string
}

// CommandPayload is the payload for KindCommand blocks: a recipe, not an
// executable invocation (execution is an explicit non-goal).
type CommandPayload struct {
	Shell   string
	Recipe  string
	Workdir string
}

// Provenance records where a block's content ultimately came from, set by
// the resolver when a block is contributed via an include or patched by an
// overlay. A block authored directly in its owning skill has a nil
// Provenance.
type Provenance struct {
	SourceSkillID string
	Layer         string
	Op            string // "include", "overlay:replace", "overlay:add_after", ...
}

// Block is one tagged unit of content inside a Section.
type Block struct {
	BlockID    string
	Kind       BlockKind
	Content    string
	Predicate  string // optional predicate expression; "" means unconditional
	Provenance *Provenance

	Example *ExamplePayload
	Command *CommandPayload
}

// Section is a heading-addressable ordered container of blocks.
type Section struct {
	SectionID string
	Heading   string
	Blocks    []Block
}

// DeprecatedRecord marks a skill as deprecated, optionally pointing at its
// replacement.
type DeprecatedRecord struct {
	Deprecated bool
	ReplacedBy string
	Reason     string
}

// IncludeDirective pulls blocks from another skill's sections into one of
// this skill's sections.
type IncludeDirective struct {
	Skill    string
	Into     string // target section id; the resolver creates the section if it is absent
	Prefix   string
	Sections []string // optional source-section filter; empty means all
	Position string   // "append" (default) or "prepend"
}

// ReplaceFlags mirrors the child-side `replace_<kind>` frontmatter flags
// used during extends resolution.
type ReplaceFlags struct {
	Rule          bool
	Example       bool
	Pitfall       bool
	ChecklistItem bool
	Context       bool
	Policy        bool
	Command       bool
	Reference     bool
}

// Frontmatter is the identity/composition metadata block of a skill
// specification.
type Frontmatter struct {
	ID          string
	Name        string
	Description string
	Version     string
	Tags        []string
	Requires    []string
	Provides    []string
	Platforms   []string

	Extends  string
	Includes []IncludeDirective
	Replace  ReplaceFlags

	Aliases    []string
	Deprecated DeprecatedRecord
}

// Spec is the full source-of-truth skill specification, as parsed from a
// skill source file.
type Spec struct {
	Frontmatter Frontmatter
	Sections    []Section

	// SourcePath is set by Parse and Layer by the indexer or the write
	// path; neither is part of the canonical compiled form.
	SourcePath string
	Layer      string
	ModifiedAt time.Time
}

// BlockByID returns the block with the given id, and the section it lives
// in, scanning declaration order.
func (s *Spec) BlockByID(id string) (*Block, *Section, bool) {
	for i := range s.Sections {
		sec := &s.Sections[i]
		for j := range sec.Blocks {
			if sec.Blocks[j].BlockID == id {
				return &sec.Blocks[j], sec, true
			}
		}
	}
	return nil, nil, false
}

// SectionByID returns the section with the given id.
func (s *Spec) SectionByID(id string) (*Section, bool) {
	for i := range s.Sections {
		if s.Sections[i].SectionID == id {
			return &s.Sections[i], true
		}
	}
	return nil, false
}

// Lens maps block ids to their byte range in a compiled view.
type Lens map[string]ByteRange

// ByteRange is a half-open [Start, End) byte offset pair into compiled
// output.
type ByteRange struct {
	Start int
	End   int
}

// CompiledView is the result of compiling a Spec: byte-stable markdown plus
// the lens that locates each block within it.
type CompiledView struct {
	Bytes []byte
	Lens  Lens
}

// OverlayOpKind tags the variant payload an OverlayOp carries.
type OverlayOpKind string

const (
	OpReplace       OverlayOpKind = "replace"
	OpAddBefore     OverlayOpKind = "add_before"
	OpAddAfter      OverlayOpKind = "add_after"
	OpRemove        OverlayOpKind = "remove"
	OpModifySection OverlayOpKind = "modify_section"
)

// OverlayOp is one patch operation contributed by a higher layer's overlay
// file, targeting a block (or section, for ModifySection) in a lower-layer
// skill.
type OverlayOp struct {
	Kind      OverlayOpKind
	Layer     string
	BlockID   string // target for Replace/AddBefore/AddAfter/Remove
	SectionID string // target for ModifySection
	NewBlock  *Block // payload for Replace/AddBefore/AddAfter
	NewHeading string // payload for ModifySection
}

// Overlay is a single higher-layer overlay file's operations, applied in
// layer order by the resolver.
type Overlay struct {
	Layer string
	Ops   []OverlayOp
}

// AppliedOp records one overlay operation that was applied during
// resolution, for inclusion in the resolved spec's provenance trail.
type AppliedOp struct {
	Layer   string
	Op      OverlayOpKind
	BlockID string
}

// ResolvedSpec is the fully materialized result of extends + includes +
// overlay resolution: a Spec plus a provenance trail of applied overlay
// operations and the resolve cache key it was computed under.
type ResolvedSpec struct {
	Spec       Spec
	ResolveKey string
	AppliedOps []AppliedOp
	Servable   bool // false when a dependency is missing (spec.md §4.3); Resolve then also returns a MissingDependency error
}

// CachePointer lets the resolve cache's cold-start tier find a skill's
// last-known resolve_key and revalidate it cheaply (one GetSpec per
// recorded dependency id, rather than a full extends/includes walk)
// before trusting the cached ResolvedSpec behind that key.
type CachePointer struct {
	ResolveKey  string
	DepHashes   map[string]string
	Fingerprint string
}

// SkillSummary is the lightweight listing projection used by list/search
// result sets.
type SkillSummary struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Layer       string
	ContentHash string
	Deprecated  bool
	ModifiedAt  time.Time
}

// Alias maps an old or alternate id to its canonical id.
type Alias struct {
	From      string
	To        string
	Kind      string // "alias" or "deprecated"
	CreatedAt time.Time
}

// Slice is a derived, atomic unit produced by decomposing a resolved
// skill for retrieval and packing. Slices are never user-authored.
type Slice struct {
	SliceID       string
	SkillID       string
	SectionID     string
	Kind          BlockKind
	Content       string
	Language      string // set for KindExample slices
	Heading       string // set on the first slice of a section
	TokenEstimate int
	Utility       float64
	Group         string // group tag used by packer quotas/caps
	Predicate     string
	BlockID       string // originating block
}

// Embedding is a fixed-dimension vector computed for a skill or slice.
type Embedding struct {
	OwnerID   string // skill id or slice id
	Backend   string
	Dims      int
	Vector    []float32
}

// AuditEvent records a mutating operation for the audit trail spec.md §4.2
// mentions as a hook for external collaborators.
type AuditEvent struct {
	ID        string
	Op        string
	EntityID  string
	Actor     string
	At        time.Time
	Detail    string
}
