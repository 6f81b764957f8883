package memory

import (
	"reflect"
	"strings"

	"go.uber.org/zap"
)

// MemoryCompressor merges near-duplicate entries so repeated learnings
// accumulate usage weight instead of crowding the store.
type MemoryCompressor struct {
	store  *MemoryStore
	logger *zap.Logger
}

// NewMemoryCompressor creates a compressor over store.
func NewMemoryCompressor(store *MemoryStore, logger *zap.Logger) *MemoryCompressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryCompressor{
		store:  store,
		logger: logger.With(zap.String("component", "memory_compressor")),
	}
}

// Similarity scores how interchangeable two entries are, in [0,1]. It is
// symmetric. Entries from different categories or features never merge and
// score exactly 0 regardless of content; identical content under the same
// category and feature scores exactly 1. Otherwise the score is the Jaccard
// overlap of the coarse content keyword sets.
func (c *MemoryCompressor) Similarity(a, b *MemoryEntry) float64 {
	if a == nil || b == nil {
		return 0
	}
	if a.Category != b.Category || a.FeatureID != b.FeatureID {
		return 0
	}
	if reflect.DeepEqual(a.Content, b.Content) {
		return 1
	}

	ka := contentKeywords(a.Content)
	kb := contentKeywords(b.Content)
	union := len(ka) + len(kb) - overlapCount(ka, kb)
	if union == 0 {
		return 1
	}
	return float64(overlapCount(ka, kb)) / float64(union)
}

// Compress merges every pair of entries whose similarity reaches threshold.
// The earlier-encountered entry survives: it absorbs the duplicate's hit
// count (summed, not reset), unions its tags case-insensitively, and keeps
// the earlier created_at of the two. Returns the number of merges.
func (c *MemoryCompressor) Compress(threshold float64) int {
	if threshold <= 0 {
		threshold = 0.8
	}

	entries := c.store.scan("")
	merged := 0
	removed := make(map[string]struct{})

	for i := 0; i < len(entries); i++ {
		keeper := entries[i]
		if _, gone := removed[keeper.ID]; gone {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			dup := entries[j]
			if _, gone := removed[dup.ID]; gone {
				continue
			}
			if c.Similarity(keeper, dup) < threshold {
				continue
			}

			keeper.HitCount += dup.HitCount
			keeper.Tags = unionTags(keeper.Tags, dup.Tags)
			keeperTime, keeperOK := parseEntryTime(keeper.CreatedAt)
			dupTime, dupOK := parseEntryTime(dup.CreatedAt)
			if keeperOK && dupOK && dupTime.Before(keeperTime) {
				keeper.CreatedAt = dup.CreatedAt
			}

			c.store.Delete(dup.ID)
			removed[dup.ID] = struct{}{}
			merged++
		}
	}

	if merged > 0 {
		c.logger.Info("compressed near-duplicate entries",
			zap.Int("merged", merged),
			zap.Float64("threshold", threshold))
	}
	return merged
}

// unionTags merges two tag lists, deduplicating case-insensitively while
// preserving first-seen spelling and order.
func unionTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			key := strings.ToLower(t)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
