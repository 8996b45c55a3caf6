// Package retrieval implements the hybrid lexical/dense search and
// context-aware suggestion contracts described in spec.md §4.5.
package retrieval

import "time"

// Document is the retrieval-indexed projection of a skill: enough of its
// resolved frontmatter and body to drive lexical/dense scoring and
// filters, independent of how the caller sourced it (store listing,
// resolver output, or a synthetic test fixture).
type Document struct {
	ID           string
	Name         string
	Description  string
	Body         string // compiled body text, for lexical indexing
	Tags         []string
	Layer        string
	Deprecated   bool
	Capabilities []string // Frontmatter.Provides
	Requires     []string // Frontmatter.Requires
	ModifiedAt   time.Time
}

// Filter narrows the candidate set before fusion, per spec.md §4.5.
type Filter struct {
	Layer             string
	Tags              []string // all must be present (intersection)
	IncludeDeprecated bool
	Capability        string // "" means no capability filter
	RequireSatisfied  bool   // not consulted by Search: Requires are not checked against any context
}

// Result is one fused retrieval hit.
type Result struct {
	ID             string
	Score          float64
	LexicalRank    int // 0 means "did not place" in the lexical top-K
	DenseRank      int
	AliasRewritten bool
	RewrittenFrom  string
}
