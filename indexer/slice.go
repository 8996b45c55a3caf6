package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/flexigpt/skillregistry-go/spec"
)

// kindPriority implements the utility-scoring priority order from spec.md
// §4.4: "policy > rule > pitfall > example > checklist > context". Lower
// index is higher priority.
var kindPriority = map[spec.BlockKind]int{
	spec.KindPolicy:        0,
	spec.KindRule:          1,
	spec.KindPitfall:       2,
	spec.KindExample:       3,
	spec.KindChecklistItem: 4,
	spec.KindContext:       5,
	spec.KindCommand:       2, // treated alongside pitfalls: operationally load-bearing
	spec.KindReference:     6,
}

// Slice decomposes a resolved spec into atomic slices, a pure function of
// its input per spec.md §4.4.
func Slice(rs spec.ResolvedSpec, usage UsageReinforcement) []spec.Slice {
	sp := rs.Spec
	var out []spec.Slice

	for _, sec := range sp.Sections {
		headingAttached := false
		for _, b := range sec.Blocks {
			if b.Kind != spec.KindExample && !isSliceable(b.Kind) {
				continue
			}
			sl := spec.Slice{
				SliceID:       sliceID(sp.Frontmatter.ID, b.BlockID),
				SkillID:       sp.Frontmatter.ID,
				SectionID:     sec.SectionID,
				Kind:          b.Kind,
				Content:       b.Content,
				TokenEstimate: estimateTokens(b.Content),
				Group:         string(b.Kind),
				Predicate:     b.Predicate,
				BlockID:       b.BlockID,
			}
			if b.Kind == spec.KindExample && b.Example != nil {
				sl.Language = b.Example.Language
			}
			if !headingAttached && sec.Heading != "" {
				sl.Heading = sec.Heading
				headingAttached = true
			}
			sl.Utility = utilityScore(sl, usage)
			out = append(out, sl)
		}
	}
	return out
}

func isSliceable(k spec.BlockKind) bool {
	switch k {
	case spec.KindRule, spec.KindPitfall, spec.KindChecklistItem, spec.KindPolicy, spec.KindCommand, spec.KindExample:
		return true
	default:
		return false
	}
}

// UsageReinforcement is a read-through into recorded usage outcomes,
// consulted by utility scoring.
type UsageReinforcement interface {
	ScoreFor(sliceID string) float64 // >=0; 0 if no history
}

// NoUsageReinforcement is the zero-value UsageReinforcement for contexts
// (tests, first index) with no recorded usage yet.
type NoUsageReinforcement struct{}

func (NoUsageReinforcement) ScoreFor(string) float64 { return 0 }

// utilityScore combines block kind priority, a length penalty, and usage
// reinforcement per spec.md §4.4. Predicate-match likelihood is folded in
// by the packer at selection time (it depends on the resolution context,
// not the slice alone), not here.
func utilityScore(sl spec.Slice, usage UsageReinforcement) float64 {
	priority := kindPriority[sl.Kind]
	base := 1.0 / float64(priority+1)

	lengthPenalty := 1.0
	if sl.TokenEstimate > 0 {
		lengthPenalty = 1.0 / (1.0 + float64(sl.TokenEstimate)/200.0)
	}

	reinforcement := 1.0
	if usage != nil {
		reinforcement += usage.ScoreFor(sl.SliceID)
	}

	return base * lengthPenalty * reinforcement
}

// estimateTokens is the deterministic byte-to-token heuristic spec.md §6
// requires: roughly 4 bytes per token, rounded up, with a floor of 1 for
// any non-empty content.
func estimateTokens(content string) int {
	n := len(strings.TrimSpace(content))
	if n == 0 {
		return 0
	}
	est := (n + 3) / 4
	if est < 1 {
		est = 1
	}
	return est
}

func sliceID(skillID, blockID string) string {
	h := sha256.New()
	h.Write([]byte(skillID))
	h.Write([]byte{0})
	h.Write([]byte(blockID))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
