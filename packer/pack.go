package packer

import (
	"sort"

	"github.com/flexigpt/skillregistry-go/predicate"
	"github.com/flexigpt/skillregistry-go/spec"
)

// Request is the packer's input: a candidate slice pool, a budget, a
// resolution context for predicate gating, and optional contract and
// novelty inputs.
type Request struct {
	Slices         []spec.Slice
	Budget         int
	Context        spec.ResolutionContext
	Contract       *Contract
	AlreadyPresent map[string]bool // slice ids already in the agent's context (novelty penalty)
	MaxImproveIter int             // 0 selects a default
}

// Manifest is the packer's output accounting, per spec.md §4.6.
type Manifest struct {
	TokensTotal int
	ByGroup     map[string]int
	Contract    string
	Omitted     []OmittedSlice
}

type OmittedSlice struct {
	SliceID string
	Reason  string
}

// Pack is the ordered selection of slices plus its manifest.
type Pack struct {
	Slices   []spec.Slice
	Manifest Manifest
}

const defaultMaxImproveIter = 200
const noveltyDecay = 0.5

// Run executes the two-pass solver described in spec.md §4.6: seed
// mandatory and coverage slices, then greedily improve by
// utility-per-token with bounded swap passes.
func Run(req Request) (Pack, error) {
	admissible, omitted := admit(req)

	seeded, seedTokens, err := seed(admissible, req)
	if err != nil {
		return Pack{}, err
	}

	selected := improve(seeded, admissible, req, seedTokens)

	return finalize(selected, omitted, req), nil
}

// admit applies predicate gating and contract exclusions; everything
// else is admissible to the solver.
func admit(req Request) (admissible []spec.Slice, omitted []OmittedSlice) {
	excluded := map[string]bool{}
	if req.Contract != nil {
		for _, g := range req.Contract.ExcludedGroups {
			excluded[g] = true
		}
	}
	for _, sl := range req.Slices {
		if excluded[sl.Group] {
			omitted = append(omitted, OmittedSlice{SliceID: sl.SliceID, Reason: "excluded by contract"})
			continue
		}
		if !predicate.MustTrue(sl.Predicate, req.Context) {
			omitted = append(omitted, OmittedSlice{SliceID: sl.SliceID, Reason: "predicate not satisfied"})
			continue
		}
		admissible = append(admissible, sl)
	}
	return admissible, omitted
}

// seed selects every admissible slice in the policy group (spec.md §4.6
// example: policy is unconditionally mandatory-all) plus, for each of the
// contract's MandatoryGroups, only the single highest-utility slice in
// that group (Contract.MandatoryGroups' own doc: "at least one slice" —
// coverage, not every slice; spec.md §4.6 scenario S6). It fails closed
// if the seed alone exceeds budget.
func seed(admissible []spec.Slice, req Request) ([]spec.Slice, int, error) {
	var mandatoryGroups []string
	if req.Contract != nil {
		mandatoryGroups = req.Contract.MandatoryGroups
	}

	bestByGroup := map[string]spec.Slice{}
	haveBest := map[string]bool{}
	var allPolicy []spec.Slice

	for _, sl := range admissible {
		if sl.Group == "policy" {
			allPolicy = append(allPolicy, sl)
		}
		if !haveBest[sl.Group] || sl.Utility > bestByGroup[sl.Group].Utility {
			bestByGroup[sl.Group] = sl
			haveBest[sl.Group] = true
		}
	}

	for _, g := range mandatoryGroups {
		if !haveBest[g] {
			return nil, 0, spec.NewContractUnsatisfiable(req.Contract.Name, "no admissible slice in mandatory group "+g)
		}
	}

	var seeded []spec.Slice
	seededIDs := map[string]bool{}
	addOnce := func(sl spec.Slice) {
		if !seededIDs[sl.SliceID] {
			seeded = append(seeded, sl)
			seededIDs[sl.SliceID] = true
		}
	}
	for _, sl := range allPolicy {
		addOnce(sl)
	}
	for _, g := range mandatoryGroups {
		addOnce(bestByGroup[g])
	}

	total := tokensOf(seeded)
	if total > req.Budget {
		return nil, 0, spec.NewBudgetInfeasible(total, req.Budget)
	}
	return seeded, total, nil
}

// improve runs the greedy utility-per-token pass plus bounded swaps.
func improve(seeded, admissible []spec.Slice, req Request, startTokens int) []spec.Slice {
	selected := append([]spec.Slice{}, seeded...)
	selectedIDs := map[string]bool{}
	groupCount := map[string]int{}
	for _, sl := range selected {
		selectedIDs[sl.SliceID] = true
		groupCount[sl.Group]++
	}

	capMap := perGroupCap(req.Contract)
	tokens := startTokens

	candidates := append([]spec.Slice{}, admissible...)
	sort.SliceStable(candidates, func(i, j int) bool {
		ui := effectiveUtility(candidates[i], req.AlreadyPresent)
		uj := effectiveUtility(candidates[j], req.AlreadyPresent)
		pi := ui / tokenWeight(candidates[i].TokenEstimate)
		pj := uj / tokenWeight(candidates[j].TokenEstimate)
		if pi != pj {
			return pi > pj
		}
		return candidates[i].SliceID < candidates[j].SliceID
	})

	for _, sl := range candidates {
		if selectedIDs[sl.SliceID] {
			continue
		}
		if capFor, ok := capMap[sl.Group]; ok && groupCount[sl.Group] >= capFor {
			continue
		}
		if tokens+sl.TokenEstimate > req.Budget {
			continue
		}
		selected = append(selected, sl)
		selectedIDs[sl.SliceID] = true
		groupCount[sl.Group]++
		tokens += sl.TokenEstimate
	}

	maxIter := req.MaxImproveIter
	if maxIter <= 0 {
		maxIter = defaultMaxImproveIter
	}
	selected = swapPasses(selected, candidates, selectedIDs, groupCount, capMap, req, maxIter)

	return selected
}

// swapPasses replaces a selected slice with an unselected one when doing
// so strictly increases total utility and all constraints still hold,
// bounded to maxIter iterations so termination is guaranteed.
func swapPasses(selected, candidates []spec.Slice, selectedIDs map[string]bool, groupCount map[string]int, capMap map[string]int, req Request, maxIter int) []spec.Slice {
	for iter := 0; iter < maxIter; iter++ {
		improved := false
		tokens := tokensOf(selected)
		for _, cand := range candidates {
			if selectedIDs[cand.SliceID] {
				continue
			}
			for i, sel := range selected {
				if isMandatory(sel, req.Contract) {
					continue
				}
				newTokens := tokens - sel.TokenEstimate + cand.TokenEstimate
				if newTokens > req.Budget {
					continue
				}
				newGroupCount := groupCount[cand.Group]
				if cand.Group != sel.Group {
					newGroupCount++
				}
				if capFor, ok := capMap[cand.Group]; ok && newGroupCount > capFor && cand.Group != sel.Group {
					continue
				}
				oldUtil := effectiveUtility(sel, req.AlreadyPresent)
				newUtil := effectiveUtility(cand, req.AlreadyPresent)
				if newUtil <= oldUtil {
					continue
				}
				selectedIDs[sel.SliceID] = false
				selectedIDs[cand.SliceID] = true
				groupCount[sel.Group]--
				groupCount[cand.Group]++
				selected[i] = cand
				improved = true
				break
			}
			if improved {
				break
			}
		}
		if !improved {
			break
		}
	}
	return selected
}

func isMandatory(sl spec.Slice, c *Contract) bool {
	if sl.Group == "policy" {
		return true
	}
	if c == nil {
		return false
	}
	for _, g := range c.MandatoryGroups {
		if g == sl.Group {
			return true
		}
	}
	return false
}

func perGroupCap(c *Contract) map[string]int {
	if c == nil {
		return nil
	}
	return c.PerGroupCap
}

func effectiveUtility(sl spec.Slice, present map[string]bool) float64 {
	if present != nil && present[sl.SliceID] {
		return sl.Utility * noveltyDecay
	}
	return sl.Utility
}

func tokenWeight(tokens int) float64 {
	if tokens <= 0 {
		return 1
	}
	return float64(tokens)
}

func tokensOf(slices []spec.Slice) int {
	total := 0
	for _, sl := range slices {
		total += sl.TokenEstimate
	}
	return total
}

func finalize(selected []spec.Slice, omitted []OmittedSlice, req Request) Pack {
	byGroup := map[string]int{}
	total := 0
	for _, sl := range selected {
		byGroup[sl.Group] += sl.TokenEstimate
		total += sl.TokenEstimate
	}
	contractName := ""
	if req.Contract != nil {
		contractName = req.Contract.Name
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].SliceID < selected[j].SliceID
	})
	return Pack{
		Slices: selected,
		Manifest: Manifest{
			TokensTotal: total,
			ByGroup:     byGroup,
			Contract:    contractName,
			Omitted:     omitted,
		},
	}
}
