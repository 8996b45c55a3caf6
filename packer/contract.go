package packer

// Contract is a named pack contract (Debug/Refactor/Review/…) specifying
// required coverage and excluded groups, per spec.md §4.6.
type Contract struct {
	Name            string
	MandatoryGroups []string // every group here must contribute at least one slice
	ExcludedGroups  []string // slices in these groups are never considered
	PerGroupCap     map[string]int
}

// Debug favors pitfalls and commands over narrative examples: a
// debugging session wants what tends to go wrong and how to check it,
// not a tour of the happy path.
func Debug() Contract {
	return Contract{
		Name:            "Debug",
		MandatoryGroups: []string{"pitfall", "command"},
		PerGroupCap:     map[string]int{"example": 2},
	}
}

// Refactor favors rules and policy, caps examples low to leave budget
// for the structural guidance that actually constrains a rewrite.
func Refactor() Contract {
	return Contract{
		Name:            "Refactor",
		MandatoryGroups: []string{"rule", "policy"},
		PerGroupCap:     map[string]int{"example": 1},
	}
}

// Review excludes command recipes (a reviewer reads code, it doesn't
// run it) and requires at least one rule and one pitfall.
func Review() Contract {
	return Contract{
		Name:            "Review",
		MandatoryGroups: []string{"rule", "pitfall"},
		ExcludedGroups:  []string{"command"},
	}
}

// NamedContract resolves one of the built-in contracts by name, or
// false if unknown.
func NamedContract(name string) (Contract, bool) {
	switch name {
	case "Debug":
		return Debug(), true
	case "Refactor":
		return Refactor(), true
	case "Review":
		return Review(), true
	default:
		return Contract{}, false
	}
}
