package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSemanticSearch_TokenWeights(t *testing.T) {
	s := newTestStore(t)
	s.Add(seedEntry("weighted", "bug_fix", Content{"note": "error in handler"}, 0))
	s.Add(seedEntry("plain", "bug_fix", Content{"note": "handler cleanup"}, 0))
	ss := NewSemanticSearch(s, zap.NewNop())

	got := ss.Search("error handler", "", 0)
	require.Len(t, got, 2)

	// Both match "handler" (weight 1.0); the first also matches "error"
	// (weight 2.0), so it scores 3.0 against 1.0.
	assert.Equal(t, "weighted", got[0].Entry.ID)
	assert.InDelta(t, 3.0, got[0].Score, 1e-9)
	assert.Equal(t, []string{"error", "handler"}, got[0].Matched)
	assert.InDelta(t, 1.0, got[1].Score, 1e-9)
}

func TestSemanticSearch_CategoryFactor(t *testing.T) {
	s := newTestStore(t)
	s.Add(seedEntry("match", "bug_fix", Content{"note": "handler"}, 0))
	s.Add(seedEntry("mismatch", "schema_drift", Content{"note": "handler"}, 0))
	ss := NewSemanticSearch(s, zap.NewNop())

	got := ss.Search("handler", "bug_fix", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "match", got[0].Entry.ID)
	assert.InDelta(t, 1.5, got[0].Score, 1e-9)
	assert.InDelta(t, 0.8, got[1].Score, 1e-9)
}

func TestSemanticSearch_RecencyDecay(t *testing.T) {
	s := newTestStore(t)
	s.Add(seedEntry("fresh", "bug_fix", Content{"note": "handler"}, 0))
	s.Add(seedEntry("stale", "bug_fix", Content{"note": "handler"}, 30))
	ss := NewSemanticSearch(s, zap.NewNop())

	got := ss.Search("handler", "", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].Entry.ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.InDelta(t, Decay(30*24), got[1].Score, 1e-9)
}

func TestSemanticSearch_ExactPhraseBoost(t *testing.T) {
	s := newTestStore(t)
	s.Add(seedEntry("phrase", "bug_fix", Content{"note": "import cycle detected"}, 0))
	s.Add(seedEntry("scattered", "bug_fix", Content{"note": "cycle in the import graph"}, 0))
	ss := NewSemanticSearch(s, zap.NewNop())

	got := ss.Search("import cycle", "", 0)
	require.Len(t, got, 2)

	// Both match the same tokens (import 1.5 + cycle 1.0); only the first
	// contains the literal phrase and is doubled.
	assert.Equal(t, "phrase", got[0].Entry.ID)
	assert.InDelta(t, 5.0, got[0].Score, 1e-9)
	assert.InDelta(t, 2.5, got[1].Score, 1e-9)
}

func TestSemanticSearch_NoOverlapExcluded(t *testing.T) {
	s := newTestStore(t)
	s.Add(seedEntry("a", "bug_fix", Content{"note": "unrelated words"}, 0))
	ss := NewSemanticSearch(s, zap.NewNop())

	assert.Empty(t, ss.Search("timeout", "", 0))
	assert.Empty(t, ss.Search("", "", 0))
	assert.Empty(t, ss.Search("x", "", 0), "single-letter queries produce no tokens")
}

func TestSemanticSearch_Uncounted(t *testing.T) {
	s := newTestStore(t)
	e := seedEntry("a", "bug_fix", Content{"note": "handler"}, 0)
	s.Add(e)
	ss := NewSemanticSearch(s, zap.NewNop())

	ss.Search("handler", "", 0)
	assert.Zero(t, e.HitCount)
	assert.Zero(t, s.Stats().TotalQueries)
}

func TestSemanticSearch_Limit(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 15; i++ {
		s.Add(seedEntry(string(rune('a'+i)), "bug_fix", Content{"note": "handler"}, 0))
	}
	ss := NewSemanticSearch(s, zap.NewNop())

	assert.Len(t, ss.Search("handler", "", 0), 10, "default limit is 10")
	assert.Len(t, ss.Search("handler", "", 3), 3)
}
