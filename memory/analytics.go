package memory

import (
	"sort"

	"go.uber.org/zap"
)

// AgeBuckets counts entries by age band.
type AgeBuckets struct {
	Today     int `json:"today"`
	PastWeek  int `json:"past_week"`
	PastMonth int `json:"past_month"`
	Older     int `json:"older"`
}

// AnalyticsReport summarizes the store's contents.
type AnalyticsReport struct {
	TotalEntries   int            `json:"total_entries"`
	ByCategory     map[string]int `json:"by_category"`
	ByOutcome      map[string]int `json:"by_outcome"`
	MaxHitCount    int            `json:"max_hit_count"`
	AvgHitCount    float64        `json:"avg_hit_count"`
	ZeroHitEntries int            `json:"zero_hit_entries"`
	AgeBuckets     AgeBuckets     `json:"age_buckets"`
}

// MemoryAnalytics produces statistical reports over a store. Every read is
// an uncounted scan: reporting never inflates hit counts.
type MemoryAnalytics struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewMemoryAnalytics creates analytics over store.
func NewMemoryAnalytics(store *MemoryStore, logger *zap.Logger) *MemoryAnalytics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryAnalytics{
		store:  store,
		logger: logger.With(zap.String("component", "memory_analytics")),
	}
}

// Report aggregates category, outcome, usage and age statistics.
func (a *MemoryAnalytics) Report() AnalyticsReport {
	now := a.store.clock().UTC()
	report := AnalyticsReport{
		ByCategory: make(map[string]int),
		ByOutcome:  make(map[string]int),
	}

	totalHits := 0
	for _, e := range a.store.scan("") {
		report.TotalEntries++
		report.ByCategory[e.Category]++
		if e.Outcome != "" {
			report.ByOutcome[e.Outcome]++
		}
		totalHits += e.HitCount
		if e.HitCount > report.MaxHitCount {
			report.MaxHitCount = e.HitCount
		}
		if e.HitCount == 0 {
			report.ZeroHitEntries++
		}

		ageDays := now.Sub(e.CreatedTime(now)).Hours() / 24
		switch {
		case ageDays < 1:
			report.AgeBuckets.Today++
		case ageDays < 7:
			report.AgeBuckets.PastWeek++
		case ageDays < 30:
			report.AgeBuckets.PastMonth++
		default:
			report.AgeBuckets.Older++
		}
	}
	if report.TotalEntries > 0 {
		report.AvgHitCount = float64(totalHits) / float64(report.TotalEntries)
	}
	return report
}

// TopEntries returns the n most relevant entries without counting hits.
func (a *MemoryAnalytics) TopEntries(n int) []*MemoryEntry {
	if n <= 0 {
		n = 10
	}
	now := a.store.clock()
	entries := a.store.scan("")
	sort.SliceStable(entries, func(i, j int) bool {
		return RelevanceScore(entries[i], now) > RelevanceScore(entries[j], now)
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
