package compiler

import (
	"fmt"

	"github.com/flexigpt/skillregistry-go/spec"

	"github.com/flexigpt/skillregistry-go/predicate"
)

// Validate checks identifier shape, required fields, semver parse-ability,
// duplicate block ids, and predicate well-formedness. Overlay block
// references are checked separately by ValidateOverlay.
func Validate(s spec.Spec) error {
	fm := s.Frontmatter
	if fm.ID == "" {
		return spec.NewValidationError("", "frontmatter.id is required", "set an explicit id or a derivable source path")
	}
	if !isKebabCase(fm.ID) {
		return spec.NewValidationError(fm.ID, fmt.Sprintf("id %q is not kebab-case", fm.ID), "use lowercase letters, digits, and single hyphens")
	}
	if fm.Name == "" {
		return spec.NewValidationError(fm.ID, "frontmatter.name is required", "")
	}
	if fm.Version != "" {
		if _, _, _, ok := parseSemverLocal(fm.Version); !ok {
			return spec.NewValidationError(fm.ID, fmt.Sprintf("version %q is not valid semver", fm.Version), "use MAJOR.MINOR.PATCH")
		}
	}

	seenSections := map[string]bool{}
	seenBlocks := map[string]bool{}
	for _, sec := range s.Sections {
		if seenSections[sec.SectionID] {
			return spec.NewValidationError(fm.ID, fmt.Sprintf("duplicate section id %q", sec.SectionID), "")
		}
		seenSections[sec.SectionID] = true
		for _, b := range sec.Blocks {
			if seenBlocks[b.BlockID] {
				return spec.NewValidationError(fm.ID, fmt.Sprintf("duplicate block id %q", b.BlockID), "")
			}
			seenBlocks[b.BlockID] = true
			if !b.Kind.Valid() {
				return spec.NewValidationError(fm.ID, fmt.Sprintf("invalid block kind %q", b.Kind), "")
			}
			if b.Predicate != "" {
				if _, err := predicate.Parse(b.Predicate); err != nil {
					return spec.NewValidationError(fm.ID, fmt.Sprintf("malformed predicate on block %s: %v", b.BlockID, err), "")
				}
			}
		}
	}

	for _, inc := range fm.Includes {
		if inc.Skill == "" {
			return spec.NewValidationError(fm.ID, "includes[].skill is required", "")
		}
		if inc.Position != "" && inc.Position != "append" && inc.Position != "prepend" {
			return spec.NewValidationError(fm.ID, fmt.Sprintf("includes[].position %q must be append or prepend", inc.Position), "")
		}
	}

	return nil
}

// ValidateOverlay checks that every block/section an overlay's operations
// target exists in the target spec (spec.md §4.1 "overlay operations
// reference existing block ids when applied").
func ValidateOverlay(target spec.Spec, ov spec.Overlay) error {
	for _, op := range ov.Ops {
		switch op.Kind {
		case spec.OpModifySection:
			if _, ok := target.SectionByID(op.SectionID); !ok {
				return spec.NewOverlayError(target.Frontmatter.ID, op.SectionID, fmt.Sprintf("overlay targets unknown section %q", op.SectionID))
			}
		default:
			if _, _, ok := target.BlockByID(op.BlockID); !ok {
				return spec.NewOverlayError(target.Frontmatter.ID, op.BlockID, fmt.Sprintf("overlay targets unknown block %q", op.BlockID))
			}
		}
	}
	return nil
}

func isKebabCase(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' && i != 0 && i != len(s)-1:
		default:
			return false
		}
	}
	return true
}

// parseSemverLocal duplicates predicate's minimal semver parse (except that
// a leading "v" is not accepted here) so compiler does not need to import
// predicate's unexported helpers; both are small
// enough that sharing via an exported function would be more machinery
// than the duplication it replaces.
func parseSemverLocal(v string) (maj, min, patch int, ok bool) {
	n := 0
	cur := 0
	started := false
	nums := []int{0, 0, 0}
	idx := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
			started = true
		case r == '.':
			if !started || idx >= 2 {
				return 0, 0, 0, false
			}
			nums[idx] = cur
			idx++
			cur = 0
			started = false
		case r == '-' || r == '+':
			if started {
				nums[idx] = cur
				idx++
			}
			return nums[0], nums[1], nums[2], idx >= 1
		default:
			return 0, 0, 0, false
		}
		n++
	}
	if started {
		nums[idx] = cur
		idx++
	}
	return nums[0], nums[1], nums[2], idx >= 1
}
