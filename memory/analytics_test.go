package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAnalytics_Report(t *testing.T) {
	s := newTestStore(t)
	a := seedEntry("a", "bug_fix", nil, 0)
	a.HitCount = 4
	a.Outcome = "success"
	b := seedEntry("b", "bug_fix", nil, 3)
	b.Outcome = "failure"
	c := seedEntry("c", "schema_drift", nil, 10)
	c.HitCount = 2
	d := seedEntry("d", "schema_drift", nil, 45)
	s.Add(a)
	s.Add(b)
	s.Add(c)
	s.Add(d)

	report := NewMemoryAnalytics(s, zap.NewNop()).Report()

	assert.Equal(t, 4, report.TotalEntries)
	assert.Equal(t, map[string]int{"bug_fix": 2, "schema_drift": 2}, report.ByCategory)
	assert.Equal(t, map[string]int{"success": 1, "failure": 1}, report.ByOutcome)
	assert.Equal(t, 4, report.MaxHitCount)
	assert.InDelta(t, 1.5, report.AvgHitCount, 1e-9)
	assert.Equal(t, 2, report.ZeroHitEntries)
	assert.Equal(t, AgeBuckets{Today: 1, PastWeek: 1, PastMonth: 1, Older: 1}, report.AgeBuckets)
}

func TestAnalytics_Report_Empty(t *testing.T) {
	s := newTestStore(t)
	report := NewMemoryAnalytics(s, zap.NewNop()).Report()

	assert.Zero(t, report.TotalEntries)
	assert.Zero(t, report.AvgHitCount)
	assert.Empty(t, report.ByCategory)
}

func TestAnalytics_TopEntries(t *testing.T) {
	s := newTestStore(t)
	low := seedEntry("low", "recovery_action", nil, 20)
	mid := seedEntry("mid", "recovery_action", nil, 0)
	top := seedEntry("top", "recovery_action", nil, 0)
	top.HitCount = 10
	s.Add(low)
	s.Add(mid)
	s.Add(top)

	analytics := NewMemoryAnalytics(s, zap.NewNop())

	got := analytics.TopEntries(2)
	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)

	t.Run("non-positive n defaults to ten", func(t *testing.T) {
		assert.Len(t, analytics.TopEntries(0), 3)
	})
}

func TestAnalytics_Uncounted(t *testing.T) {
	s := newTestStore(t)
	e := seedEntry("a", "bug_fix", nil, 0)
	s.Add(e)
	analytics := NewMemoryAnalytics(s, zap.NewNop())

	analytics.Report()
	analytics.TopEntries(0)

	assert.Zero(t, e.HitCount)
	assert.Zero(t, s.Stats().TotalQueries)
}
