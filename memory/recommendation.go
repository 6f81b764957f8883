package memory

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// successCategories are the categories the issue-based retrieval scans:
// entries recording something that worked.
var successCategories = []string{"implementation_success", "recovery_pattern"}

// resolvedOutcomes are the outcome labels category-based retrieval accepts
// as "this entry's resolution actually landed". Outcomes are free-form
// strings; comparison is loose and case-insensitive.
var resolvedOutcomes = map[string]struct{}{
	"resolved": {},
	"success":  {},
	"applied":  {},
	"fixed":    {},
}

// Recommendation is one ranked remediation suggestion aggregated from the
// historical entries that share its text.
type Recommendation struct {
	Suggestion string         `json:"suggestion"`
	Confidence float64        `json:"confidence"`
	Context    map[string]any `json:"context"`
	EntryIDs   []string       `json:"entry_ids"`
}

// RecommendationEngine ranks remediation suggestions from historical
// entries. It reads the store it is given, optionally alongside a pattern
// detector; groupings are recomputed here rather than shared with the
// detector.
type RecommendationEngine struct {
	store    *MemoryStore
	detector *PatternDetector
	logger   *zap.Logger
}

// NewRecommendationEngine creates an engine over store. detector may be nil.
func NewRecommendationEngine(store *MemoryStore, detector *PatternDetector, logger *zap.Logger) *RecommendationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecommendationEngine{
		store:    store,
		detector: detector,
		logger:   logger.With(zap.String("component", "recommendation_engine")),
	}
}

// GetRecommendations ranks suggestions for a free-form issue description.
//
// Keywords (word-split, length > 2) and tags are extracted from the issue;
// entries in the success categories are scored by
// 0.6*keywordOverlap + 0.4*tagOverlap (overlap ratio against the query
// set, 0 when either side is empty). Surviving entries contribute their
// suggestion text; identical texts aggregate into one recommendation whose
// confidence blends average similarity (0.3), success rate over recorded
// outcomes (0.5, neutral 0.25 with no outcome data) and a linear 30-day
// recency term (0.2). A store with no similar history returns an empty
// list, never an invented suggestion.
func (r *RecommendationEngine) GetRecommendations(currentIssue Content, limit int) []Recommendation {
	if limit <= 0 {
		limit = 5
	}
	queryKeywords := fineKeywords(currentIssue, 2)
	queryTags := lowerSet(stringSlice(currentIssue["tags"]))
	if len(queryKeywords) == 0 && len(queryTags) == 0 {
		return []Recommendation{}
	}
	now := r.store.clock()

	type member struct {
		entry      *MemoryEntry
		similarity float64
	}
	type aggregate struct {
		suggestion string
		members    []member
	}
	byText := make(map[string]*aggregate)
	ordered := make([]*aggregate, 0)

	for _, category := range successCategories {
		for _, e := range r.store.scan(category) {
			kwOverlap := overlapRatio(queryKeywords, fineKeywords(e.Content, 2))
			tagOverlap := overlapRatio(queryTags, lowerSet(e.Tags))
			similarity := 0.6*kwOverlap + 0.4*tagOverlap
			if similarity == 0 {
				continue
			}
			suggestion := e.Suggestion()
			if suggestion == "" {
				continue
			}
			agg, ok := byText[suggestion]
			if !ok {
				agg = &aggregate{suggestion: suggestion}
				byText[suggestion] = agg
				ordered = append(ordered, agg)
			}
			agg.members = append(agg.members, member{entry: e, similarity: similarity})
		}
	}

	out := make([]Recommendation, 0, len(ordered))
	for _, agg := range ordered {
		totalSim := 0.0
		successes, failures := 0, 0
		var mostRecent time.Time
		ids := make([]string, 0, len(agg.members))
		categories := make(map[string]struct{})
		for _, m := range agg.members {
			totalSim += m.similarity
			ids = append(ids, m.entry.ID)
			categories[m.entry.Category] = struct{}{}
			switch strings.ToLower(m.entry.Outcome) {
			case "success":
				successes++
			case "failure":
				failures++
			}
			if created, ok := parseEntryTime(m.entry.CreatedAt); ok && created.After(mostRecent) {
				mostRecent = created
			}
		}

		avgSimilarity := totalSim / float64(len(agg.members))

		successRate := 0.25
		if successes+failures > 0 {
			successRate = float64(successes) / float64(successes+failures)
		}

		recency := 0.0
		if !mostRecent.IsZero() {
			ageDays := now.UTC().Sub(mostRecent).Hours() / 24
			recency = 1 - ageDays/30
			if recency < 0 {
				recency = 0
			}
			if recency > 1 {
				recency = 1
			}
		}

		out = append(out, Recommendation{
			Suggestion: agg.suggestion,
			Confidence: 0.3*avgSimilarity + 0.5*successRate + 0.2*recency,
			Context: map[string]any{
				"categories":    sortedKeys(categories),
				"occurrences":   len(agg.members),
				"success_count": successes,
				"failure_count": failures,
			},
			EntryIDs: ids,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecommendForSchemaDrift ranks resolutions previously recorded for a class.
func (r *RecommendationEngine) RecommendForSchemaDrift(className string, limit int) []Recommendation {
	entries := r.store.SchemaDriftWarnings([]string{className})
	return r.aggregateResolved(entries, "schema_drift", limit)
}

// RecommendForTestFailure ranks resolutions previously recorded for a test.
func (r *RecommendationEngine) RecommendForTestFailure(testPath string, limit int) []Recommendation {
	entries := r.store.TestFailurePatterns(testPath)
	return r.aggregateResolved(entries, "test_failure", limit)
}

// GetRecommendationsByCategory ranks resolutions for any category. key
// narrows schema_drift to a class and test_failure to a test path; other
// categories ignore it.
func (r *RecommendationEngine) GetRecommendationsByCategory(category, key string, limit int) []Recommendation {
	switch {
	case category == "schema_drift" && key != "":
		return r.RecommendForSchemaDrift(key, limit)
	case category == "test_failure" && key != "":
		return r.RecommendForTestFailure(key, limit)
	}
	entries := r.store.Query(QueryFilter{Category: category, Limit: 1000})
	return r.aggregateResolved(entries, category, limit)
}

// aggregateResolved keeps entries whose outcome is in the resolved set and
// which carry a non-empty resolution, groups them by identical resolution
// text, and scores each group by share of the resolved population (0.4),
// log-scaled group size (0.3) and average member recency (0.3, halving
// every 30 days).
func (r *RecommendationEngine) aggregateResolved(entries []*MemoryEntry, category string, limit int) []Recommendation {
	if limit <= 0 {
		limit = 5
	}
	now := r.store.clock()

	resolved := make([]*MemoryEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := resolvedOutcomes[strings.ToLower(e.Outcome)]; !ok {
			continue
		}
		if e.Resolution() == "" {
			continue
		}
		resolved = append(resolved, e)
	}
	if len(resolved) == 0 {
		return []Recommendation{}
	}

	type aggregate struct {
		resolution string
		entries    []*MemoryEntry
	}
	byText := make(map[string]*aggregate)
	ordered := make([]*aggregate, 0)
	for _, e := range resolved {
		text := e.Resolution()
		agg, ok := byText[text]
		if !ok {
			agg = &aggregate{resolution: text}
			byText[text] = agg
			ordered = append(ordered, agg)
		}
		agg.entries = append(agg.entries, e)
	}

	total := float64(len(resolved))
	out := make([]Recommendation, 0, len(ordered))
	for _, agg := range ordered {
		n := float64(len(agg.entries))

		share := 2 * n / total
		if share > 1 {
			share = 1
		}

		sizeTerm := math.Log10(n+1) / math.Log10(11)
		if sizeTerm > 1 {
			sizeTerm = 1
		}

		totalRecency := 0.0
		ids := make([]string, 0, len(agg.entries))
		for _, e := range agg.entries {
			ids = append(ids, e.ID)
			if created, ok := parseEntryTime(e.CreatedAt); ok {
				ageDays := now.UTC().Sub(created).Hours() / 24
				if ageDays < 0 {
					ageDays = 0
				}
				totalRecency += math.Pow(0.5, ageDays/30)
			}
		}
		avgRecency := totalRecency / n

		out = append(out, Recommendation{
			Suggestion: agg.resolution,
			Confidence: 0.4*share + 0.3*sizeTerm + 0.3*avgRecency,
			Context: map[string]any{
				"category":       category,
				"occurrences":    len(agg.entries),
				"total_resolved": len(resolved),
			},
			EntryIDs: ids,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// overlapRatio returns |a ∩ b| / |a|, 0 when either set is empty.
func overlapRatio(query, candidate map[string]struct{}) float64 {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	return float64(overlapCount(query, candidate)) / float64(len(query))
}
