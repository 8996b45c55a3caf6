package indexer

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/flexigpt/skillregistry-go/spec"
)

const DefaultDims = 384

// EmbeddingBackend computes a fixed-dimension embedding for arbitrary
// text. The default is DeterministicHashBackend; a local model backend can
// be substituted without changing any caller (spec.md §4.4: "if a local
// model backend is configured and available, it replaces the default").
type EmbeddingBackend interface {
	Name() string
	Dims() int
	Embed(text string) []float32
}

// DeterministicHashBackend implements spec.md §4.4's default embedding
// algorithm: tokenize to words, hash each word to choose a dimension and
// a sign, sum, L2-normalize. Stdlib-only (hash/fnv) — justified
// because this is the spec's own stated deterministic default, not a
// model call, and no embedding-model client in the retrieved pack carries
// real source usage to ground against (see DESIGN.md).
type DeterministicHashBackend struct {
	dims int
}

func NewDeterministicHashBackend(dims int) *DeterministicHashBackend {
	if dims <= 0 {
		dims = DefaultDims
	}
	return &DeterministicHashBackend{dims: dims}
}

func (b *DeterministicHashBackend) Name() string { return "hash-v1" }
func (b *DeterministicHashBackend) Dims() int    { return b.dims }

func (b *DeterministicHashBackend) Embed(text string) []float32 {
	vec := make([]float32, b.dims)
	for _, word := range strings.Fields(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		dim := int(sum % uint64(b.dims))
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[dim] += sign
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
}

// EmbedSkill computes a skill-level embedding from its name, description,
// tags, and compiled body text.
func EmbedSkill(backend EmbeddingBackend, sp spec.Spec, bodyText string) spec.Embedding {
	text := sp.Frontmatter.Name + " " + sp.Frontmatter.Description + " " + strings.Join(sp.Frontmatter.Tags, " ") + " " + bodyText
	vec := backend.Embed(text)
	return spec.Embedding{OwnerID: sp.Frontmatter.ID, Backend: backend.Name(), Dims: backend.Dims(), Vector: vec}
}

// EmbedSlice computes a slice-level embedding from its content.
func EmbedSlice(backend EmbeddingBackend, sl spec.Slice) spec.Embedding {
	vec := backend.Embed(sl.Content)
	return spec.Embedding{OwnerID: sl.SliceID, Backend: backend.Name(), Dims: backend.Dims(), Vector: vec}
}
