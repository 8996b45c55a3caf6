package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flexigpt/skillregistry-go/spec"
)

func sampleResolved() spec.ResolvedSpec {
	sp := spec.Spec{
		Frontmatter: spec.Frontmatter{ID: "error-base", Name: "Error Base", Description: "d"},
		Sections: []spec.Section{
			{SectionID: "rules", Heading: "Rules", Blocks: []spec.Block{
				{BlockID: "b1", Kind: spec.KindRule, Content: "Always wrap errors with context."},
				{BlockID: "b2", Kind: spec.KindPitfall, Content: "Never discard an error silently."},
			}},
			{SectionID: "examples", Heading: "Examples", Blocks: []spec.Block{
				{BlockID: "b3", Kind: spec.KindExample, Content: "if err != nil { return err }", Example: &spec.ExamplePayload{Language: "go"}},
			}},
		},
	}
	return spec.ResolvedSpec{Spec: sp, ResolveKey: "k", Servable: true}
}

func TestSliceDecomposesOnePerBlock(t *testing.T) {
	slices := Slice(sampleResolved(), NoUsageReinforcement{})
	require.Len(t, slices, 3)
	require.Equal(t, spec.KindRule, slices[0].Kind)
	require.Equal(t, spec.KindPitfall, slices[1].Kind)
	require.Equal(t, spec.KindExample, slices[2].Kind)
	require.Equal(t, "go", slices[2].Language)
}

func TestSliceAttachesHeadingToFirstSliceOfSection(t *testing.T) {
	slices := Slice(sampleResolved(), NoUsageReinforcement{})
	require.Equal(t, "Rules", slices[0].Heading)
	require.Empty(t, slices[1].Heading, "second slice in the section should not repeat the heading")
	require.Equal(t, "Examples", slices[2].Heading)
}

func TestSliceUtilityOrdersByKindPriority(t *testing.T) {
	slices := Slice(sampleResolved(), NoUsageReinforcement{})
	// policy > rule > pitfall > example > checklist > context
	require.Greater(t, slices[0].Utility, slices[2].Utility, "rule should outrank example in utility")
}

func TestSliceIDsAreStableAndUnique(t *testing.T) {
	a := Slice(sampleResolved(), NoUsageReinforcement{})
	b := Slice(sampleResolved(), NoUsageReinforcement{})
	require.Equal(t, a[0].SliceID, b[0].SliceID)
	require.NotEqual(t, a[0].SliceID, a[1].SliceID)
}

type fakeUsage struct{ scores map[string]float64 }

func (f fakeUsage) ScoreFor(id string) float64 { return f.scores[id] }

func TestSliceUsageReinforcementBoostsUtility(t *testing.T) {
	base := Slice(sampleResolved(), NoUsageReinforcement{})
	boosted := Slice(sampleResolved(), fakeUsage{scores: map[string]float64{base[0].SliceID: 5}})
	require.Greater(t, boosted[0].Utility, base[0].Utility)
}

func TestEstimateTokensFloorsAtOneForNonEmpty(t *testing.T) {
	require.Equal(t, 0, estimateTokens(""))
	require.Equal(t, 1, estimateTokens("a"))
	require.Greater(t, estimateTokens(string(make([]byte, 400))), 1)
}
