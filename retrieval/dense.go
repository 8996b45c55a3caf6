package retrieval

import (
	"math"
	"sort"
	"sync"
)

// DenseIndex maps skill id to a fixed-dimension embedding and answers
// top-k cosine similarity queries. Stdlib-only: no vector-database
// client in the retrieved pack has accompanying source (only bare
// manifest entries) — see DESIGN.md.
type DenseIndex struct {
	mu    sync.RWMutex
	dims  int
	byDoc map[string][]float32
}

func NewDenseIndex(dims int) *DenseIndex {
	return &DenseIndex{dims: dims, byDoc: map[string][]float32{}}
}

func (idx *DenseIndex) Put(id string, vec []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byDoc[id] = vec
}

func (idx *DenseIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.byDoc, id)
}

// TopK returns up to k document IDs ranked by cosine similarity to
// query, descending, rank 1 first.
func (idx *DenseIndex) TopK(query []float32, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Result, 0, len(idx.byDoc))
	for id, vec := range idx.byDoc {
		out = append(out, Result{ID: id, Score: cosine(query, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].DenseRank = i + 1
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
