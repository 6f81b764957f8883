package memory

import (
	"math"
	"time"
)

// Category weights bias relevance toward entry kinds that historically pay
// off when resurfaced. Unknown categories get the neutral weight.
var categoryWeights = map[string]float64{
	"schema_warning":       1.5,
	"bug_fix":              1.3,
	"verification_failure": 1.2,
	"recovery_action":      1.0,
}

// CategoryWeight returns the relevance weight for a category, 1.0 when the
// category is unknown.
func CategoryWeight(category string) float64 {
	if w, ok := categoryWeights[category]; ok {
		return w
	}
	return 1.0
}

// Decay returns the exponential time-decay factor for an entry of the given
// age: 0.95 per 24 hours. Decay(0) == 1, Decay(24) == 0.95.
func Decay(ageHours float64) float64 {
	return math.Pow(0.95, ageHours/24)
}

// RelevanceScore computes the decayed importance of an entry at a reference
// time. It is pure: it never mutates the entry or reads the system clock.
//
//	score = max(1, hit_count) * CategoryWeight(category) * Decay(age_hours)
//
// The hit count is floored at 1 so a never-queried entry still scores.
func RelevanceScore(e *MemoryEntry, now time.Time) float64 {
	hits := e.HitCount
	if hits < 1 {
		hits = 1
	}
	ageHours := 0.0
	if created, ok := parseEntryTime(e.CreatedAt); ok {
		ageHours = now.UTC().Sub(created).Hours()
	}
	return float64(hits) * CategoryWeight(e.Category) * Decay(ageHours)
}

// RelevanceScoreNow is RelevanceScore against the current wall clock.
func RelevanceScoreNow(e *MemoryEntry) float64 {
	return RelevanceScore(e, time.Now())
}
