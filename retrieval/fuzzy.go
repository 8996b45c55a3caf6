package retrieval

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// nameTagSource adapts a document slice to fuzzy.Source, matching
// against name and tags. Grounded on RedClaus-cortex/apps/
// cortex-key-vault/internal/service/search.go's secretSource pattern.
type nameTagSource struct {
	docs []Document
}

func (s nameTagSource) String(i int) string {
	d := s.docs[i]
	return strings.ToLower(d.Name + " " + strings.Join(d.Tags, " "))
}

func (s nameTagSource) Len() int { return len(s.docs) }

// FuzzyMatch ranks documents by fuzzy match against query over name and
// tags, for the case where a caller's query is a partial/misspelled
// skill name rather than a natural-language search phrase.
func FuzzyMatch(docs []Document, query string) []Result {
	if query == "" || len(docs) == 0 {
		return nil
	}
	matches := fuzzy.FindFrom(strings.ToLower(query), nameTagSource{docs: docs})
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{ID: docs[m.Index].ID, Score: float64(m.Score)}
	}
	return out
}
