package memory

import (
	"sort"
	"strings"

	"go.uber.org/zap"
)

// tokenWeights biases matched tokens toward failure vocabulary, which is
// what agents most often search for.
var tokenWeights = map[string]float64{
	"error":     2.0,
	"fail":      2.0,
	"exception": 2.0,
	"class":     1.5,
	"method":    1.5,
	"import":    1.5,
}

func tokenWeight(token string) float64 {
	if w, ok := tokenWeights[token]; ok {
		return w
	}
	return 1.0
}

// SearchResult pairs an entry with its semantic score and the query tokens
// it matched.
type SearchResult struct {
	Entry   *MemoryEntry
	Score   float64
	Matched []string
}

// SemanticSearch is a weighted keyword search layered directly on the
// store's content; it does not use the inverted index. Scans through it are
// uncounted: surfacing a result here does not bump hit counts.
type SemanticSearch struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewSemanticSearch creates a search over store.
func NewSemanticSearch(store *MemoryStore, logger *zap.Logger) *SemanticSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticSearch{
		store:  store,
		logger: logger.With(zap.String("component", "semantic_search")),
	}
}

// Search scores entries against a free-form query.
//
// Base score sums per-token weights over the token intersection; entries
// with no overlap are excluded. The base is multiplied by a category factor
// (1.5 match, 0.8 mismatch, 1.0 when no category given) and the standard
// recency decay, and doubled afterwards when the literal query appears as a
// case-insensitive substring anywhere in the entry's content. Results are
// sorted by final score, capped at limit (default 10).
func (ss *SemanticSearch) Search(query, category string, limit int) []SearchResult {
	if limit <= 0 {
		limit = 10
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []SearchResult{}
	}
	querySet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = struct{}{}
	}
	phrase := strings.ToLower(strings.TrimSpace(query))
	now := ss.store.clock()

	results := make([]SearchResult, 0)
	for _, e := range ss.store.scan("") {
		entryTokens := contentTokens(e.Content)

		base := 0.0
		matched := make([]string, 0)
		for t := range querySet {
			if _, ok := entryTokens[t]; ok {
				base += tokenWeight(t)
				matched = append(matched, t)
			}
		}
		if base == 0 {
			continue
		}
		sort.Strings(matched)

		categoryFactor := 1.0
		if category != "" {
			if e.Category == category {
				categoryFactor = 1.5
			} else {
				categoryFactor = 0.8
			}
		}

		ageHours := 0.0
		if created, ok := parseEntryTime(e.CreatedAt); ok {
			ageHours = now.UTC().Sub(created).Hours()
		}

		score := base * categoryFactor * Decay(ageHours)

		// Exact-phrase boost applies after the combined product.
		if phrase != "" && containsSubstring(e.Content, phrase) {
			score *= 2.0
		}

		results = append(results, SearchResult{Entry: e, Score: score, Matched: matched})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
