package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// LexicalIndex is a BM25-style inverted index over name, description,
// body, and tags. Stdlib-only: no full-text engine in the retrieved
// pack carries in-repo source (blevesearch/bleve appears only in
// manifest listings), and an embeddable on-disk index is a poor fit for
// a library meant to run in-process against a handful of thousand
// skills — see DESIGN.md.
type LexicalIndex struct {
	mu    sync.RWMutex
	k1    float64
	b     float64
	docs  map[string]docStats
	freq  map[string]map[string]int // term -> docID -> term frequency
	avgDL float64
}

type docStats struct {
	length int
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		k1:   1.2,
		b:    0.75,
		docs: map[string]docStats{},
		freq: map[string]map[string]int{},
	}
}

// Index (re-)indexes a document, replacing any prior entry for its ID.
func (idx *LexicalIndex) Index(d Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(d.ID)

	text := strings.Join([]string{d.Name, d.Description, d.Body, strings.Join(d.Tags, " ")}, " ")
	terms := tokenize(text)
	idx.docs[d.ID] = docStats{length: len(terms)}

	counts := map[string]int{}
	for _, t := range terms {
		counts[t]++
	}
	for t, c := range counts {
		if idx.freq[t] == nil {
			idx.freq[t] = map[string]int{}
		}
		idx.freq[t][d.ID] = c
	}
	idx.recomputeAvgDL()
}

// Remove drops a document from the index (e.g., on deprecation).
func (idx *LexicalIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
	idx.recomputeAvgDL()
}

func (idx *LexicalIndex) removeLocked(id string) {
	if _, ok := idx.docs[id]; !ok {
		return
	}
	delete(idx.docs, id)
	for t, byDoc := range idx.freq {
		delete(byDoc, id)
		if len(byDoc) == 0 {
			delete(idx.freq, t)
		}
	}
}

func (idx *LexicalIndex) recomputeAvgDL() {
	if len(idx.docs) == 0 {
		idx.avgDL = 0
		return
	}
	var total int
	for _, s := range idx.docs {
		total += s.length
	}
	idx.avgDL = float64(total) / float64(len(idx.docs))
}

// TopK returns up to k document IDs ranked by BM25 score for the query,
// descending, rank 1 first.
func (idx *LexicalIndex) TopK(query string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 || len(idx.docs) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	scores := map[string]float64{}
	for _, t := range terms {
		byDoc, ok := idx.freq[t]
		if !ok {
			continue
		}
		df := float64(len(byDoc))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for docID, tf := range byDoc {
			dl := float64(idx.docs[docID].length)
			denom := float64(tf) + idx.k1*(1-idx.b+idx.b*dl/nonZero(idx.avgDL))
			scores[docID] += idf * (float64(tf) * (idx.k1 + 1)) / denom
		}
	}

	out := make([]Result, 0, len(scores))
	for id, sc := range scores {
		out = append(out, Result{ID: id, Score: sc})
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
		out[i].LexicalRank = i + 1
	}
	return out
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}
