package memory

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/internal/metrics"
)

// storeVersion tags the persisted snapshot format.
const storeVersion = "1.0"

// StoreConfig configures a MemoryStore.
type StoreConfig struct {
	// Path is the JSON snapshot file. Parent directories are created on save.
	Path string `json:"path" yaml:"path"`

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time `json:"-" yaml:"-"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Path: filepath.Join(".", "data", "memory.json"),
	}
}

// MemoryStore is the durable keyed collection of entries and the single
// source of truth for every other component in this package. Index,
// detector, engine and analytics hold non-owning references to the same
// entry objects; they may mutate entry fields but never replace the objects.
//
// A stable insertion-order id slice backs all iteration so that limits,
// tie-breaks and pruning are deterministic for a given in-memory state.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*MemoryEntry
	order      []string
	queryCount int

	path    string
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewMemoryStore creates an empty store. A nil logger is replaced with a
// no-op logger, matching the rest of the package.
func NewMemoryStore(config StoreConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	path := config.Path
	if path == "" {
		path = DefaultStoreConfig().Path
	}
	return &MemoryStore{
		entries: make(map[string]*MemoryEntry),
		order:   make([]string, 0),
		path:    path,
		now:     now,
		logger:  logger.With(zap.String("component", "memory_store")),
	}
}

// FromFile creates a store bound to path and loads it. Missing or damaged
// files yield an empty store, never an error.
func FromFile(path string, logger *zap.Logger) *MemoryStore {
	s := NewMemoryStore(StoreConfig{Path: path}, logger)
	s.Load()
	return s
}

// InstrumentWith registers operation metrics on reg. Passing nil uses the
// default prometheus registerer.
func (s *MemoryStore) InstrumentWith(reg prometheus.Registerer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = metrics.NewCollector("memflow", reg, s.logger)
	s.metrics.SetEntries(len(s.order))
}

// Add upserts an entry by id.
func (s *MemoryStore) Add(e *MemoryEntry) {
	if e == nil || e.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.ID]; !exists {
		s.order = append(s.order, e.ID)
	}
	s.entries[e.ID] = e
	s.metrics.SetEntries(len(s.order))
}

// Get returns the entry for id without counting a hit.
func (s *MemoryStore) Get(id string) (*MemoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// Delete removes an entry. It reports whether the entry existed.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// QueryFilter selects entries for Query. Empty fields do not filter.
type QueryFilter struct {
	Category  string
	FeatureID string

	// Tags requires the entry's tag set to contain every listed tag,
	// compared case-insensitively.
	Tags []string

	// Limit caps the result count; 0 means the default of 10.
	Limit int
}

// Query returns entries matching every set filter field, in iteration
// order, stopping once the limit is reached. Each returned entry has its
// hit count incremented; the store's query counter increments once per
// call regardless of how many entries match.
func (s *MemoryStore) Query(filter QueryFilter) []*MemoryEntry {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	want := lowerSet(filter.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queryCount++
	s.metrics.RecordQuery("query")

	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.FeatureID != "" && e.FeatureID != filter.FeatureID {
			continue
		}
		if len(want) > 0 && !tagsSuperset(e.Tags, want) {
			continue
		}
		results = append(results, e)
		if len(results) >= limit {
			break
		}
	}
	s.touchLocked(results)
	return results
}

// FindSimilar scores entries by coarse keyword overlap with the query
// content: |intersection| / |query keywords|. Zero-overlap entries are
// excluded, ties keep encounter order, and returned entries are counted.
//
// Extraction here treats whole string values as single keywords, unlike the
// inverted index's word-split extraction. The two similarity notions
// deliberately disagree; see keywords.go.
func (s *MemoryStore) FindSimilar(content Content, category string, limit int) []*MemoryEntry {
	if limit <= 0 {
		limit = 5
	}
	query := contentKeywords(content)
	if len(query) == 0 {
		return []*MemoryEntry{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		entry *MemoryEntry
		score float64
	}
	candidates := make([]scored, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if category != "" && e.Category != category {
			continue
		}
		overlap := overlapCount(query, contentKeywords(e.Content))
		if overlap == 0 {
			continue
		}
		candidates = append(candidates, scored{entry: e, score: float64(overlap) / float64(len(query))})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]*MemoryEntry, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, c.entry)
	}
	s.metrics.RecordQuery("find_similar")
	s.touchLocked(results)
	return results
}

// SchemaDriftWarnings returns counted schema_drift entries whose recorded
// class is one of classNames. Entries store the class under "class_name" or
// the legacy "class" key.
func (s *MemoryStore) SchemaDriftWarnings(classNames []string) []*MemoryEntry {
	want := make(map[string]struct{}, len(classNames))
	for _, n := range classNames {
		want[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if e.Category != "schema_drift" {
			continue
		}
		if _, ok := want[e.ClassName()]; !ok {
			continue
		}
		results = append(results, e)
	}
	s.metrics.RecordQuery("schema_drift")
	s.touchLocked(results)
	return results
}

// TestFailurePatterns returns counted test_failure entries for a test path.
func (s *MemoryStore) TestFailurePatterns(testPath string) []*MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if e.Category != "test_failure" {
			continue
		}
		if e.StringField("test_path") != testPath {
			continue
		}
		results = append(results, e)
	}
	s.metrics.RecordQuery("test_failure")
	s.touchLocked(results)
	return results
}

// RecentEntries returns the newest counted entries of a category, sorted by
// created_at descending.
func (s *MemoryStore) RecentEntries(category string, limit int) []*MemoryEntry {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if category != "" && e.Category != category {
			continue
		}
		results = append(results, e)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedTime(time.Time{}).After(results[j].CreatedTime(time.Time{}))
	})
	if len(results) > limit {
		results = results[:limit]
	}
	s.metrics.RecordQuery("recent")
	s.touchLocked(results)
	return results
}

// PruneOldEntries removes entries older than the given number of days and
// returns the removed count. days <= 0 is a guaranteed no-op.
func (s *MemoryStore) PruneOldEntries(days int) int {
	if days <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	removed := 0
	for _, id := range append([]string(nil), s.order...) {
		e := s.entries[id]
		created, ok := parseEntryTime(e.CreatedAt)
		if !ok {
			continue
		}
		if created.Before(cutoff) {
			s.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned old entries", zap.Int("removed", removed), zap.Int("days", days))
	}
	s.metrics.RecordPrune("age", removed)
	return removed
}

// PruneLowValueEntries removes entries whose hit count is below minHits.
func (s *MemoryStore) PruneLowValueEntries(minHits int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), s.order...) {
		if s.entries[id].HitCount < minHits {
			s.removeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("pruned low-value entries", zap.Int("removed", removed), zap.Int("min_hits", minHits))
	}
	s.metrics.RecordPrune("low_value", removed)
	return removed
}

// PruneByRelevance removes entries whose min-max-normalized relevance score
// falls below threshold, but never shrinks the store below minEntries; when
// the floor bites, the extra survivors are the highest raw scorers among the
// would-be removals.
//
// When the raw scores are clustered (range under 20% of the max) the
// normalized comparison is meaningless, and the requested threshold doubles
// as an intent signal: >= 0.5 keeps only the minEntries best by raw score,
// < 0.5 keeps everything. Existing callers depend on both readings, so the
// coupling stays.
func (s *MemoryStore) PruneByRelevance(threshold float64, minEntries int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.order)
	if total <= minEntries {
		return 0
	}

	now := s.now()
	scores := make([]float64, total)
	maxScore := math.Inf(-1)
	minScore := math.Inf(1)
	for i, id := range s.order {
		sc := RelevanceScore(s.entries[id], now)
		scores[i] = sc
		if sc > maxScore {
			maxScore = sc
		}
		if sc < minScore {
			minScore = sc
		}
	}

	scoreRange := maxScore - minScore
	var removal []int
	if scoreRange < 0.2*maxScore {
		if threshold < 0.5 {
			return 0
		}
		removal = make([]int, total)
		for i := range removal {
			removal[i] = i
		}
	} else {
		for i := range scores {
			if (scores[i]-minScore)/scoreRange < threshold {
				removal = append(removal, i)
			}
		}
	}

	if total-len(removal) < minEntries {
		keep := minEntries - (total - len(removal))
		sort.SliceStable(removal, func(a, b int) bool {
			return scores[removal[a]] > scores[removal[b]]
		})
		removal = removal[keep:]
	}

	ids := make([]string, 0, len(removal))
	for _, i := range removal {
		ids = append(ids, s.order[i])
	}
	for _, id := range ids {
		s.removeLocked(id)
	}
	if len(ids) > 0 {
		s.logger.Info("pruned by relevance",
			zap.Int("removed", len(ids)),
			zap.Float64("threshold", threshold),
			zap.Int("min_entries", minEntries))
	}
	s.metrics.RecordPrune("relevance", len(ids))
	return len(ids)
}

// GetByRelevance returns the highest-scoring counted entries, optionally
// filtered by category.
func (s *MemoryStore) GetByRelevance(category string, limit int) []*MemoryEntry {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if category != "" && e.Category != category {
			continue
		}
		results = append(results, e)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return RelevanceScore(results[i], now) > RelevanceScore(results[j], now)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	s.metrics.RecordQuery("relevance")
	s.touchLocked(results)
	return results
}

// StoreStats summarizes store usage.
type StoreStats struct {
	TotalEntries      int            `json:"total_entries"`
	TotalQueries      int            `json:"total_queries"`
	EntriesByCategory map[string]int `json:"entries_by_category"`
	AvgHitCount       float64        `json:"avg_hit_count"`
}

// Stats returns usage statistics without counting hits.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := StoreStats{
		TotalEntries:      len(s.order),
		TotalQueries:      s.queryCount,
		EntriesByCategory: make(map[string]int),
	}
	totalHits := 0
	for _, id := range s.order {
		e := s.entries[id]
		stats.EntriesByCategory[e.Category]++
		totalHits += e.HitCount
	}
	if len(s.order) > 0 {
		stats.AvgHitCount = float64(totalHits) / float64(len(s.order))
	}
	return stats
}

// Clear empties the store and resets the query counter.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*MemoryEntry)
	s.order = s.order[:0]
	s.queryCount = 0
	s.metrics.SetEntries(0)
	s.logger.Info("memory store cleared")
}

// snapshot is the persisted store format.
type snapshot struct {
	Version string         `json:"version"`
	Entries []*MemoryEntry `json:"entries"`
	Stats   snapshotStats  `json:"stats"`
}

type snapshotStats struct {
	TotalQueries int    `json:"total_queries"`
	LastSaved    string `json:"last_saved,omitempty"`
}

// Save persists the store to its configured path.
func (s *MemoryStore) Save() error {
	return s.SaveToFile(s.path)
}

// SaveToFile persists the store to path, creating parent directories and
// writing through a temp file so an interrupted save never truncates the
// previous snapshot.
func (s *MemoryStore) SaveToFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		Version: storeVersion,
		Entries: make([]*MemoryEntry, 0, len(s.order)),
		Stats: snapshotStats{
			TotalQueries: s.queryCount,
			LastSaved:    s.now().UTC().Format(time.RFC3339),
		},
	}
	for _, id := range s.order {
		snap.Entries = append(snap.Entries, s.entries[id])
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		s.metrics.RecordPersistence("save", "error")
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.metrics.RecordPersistence("save", "error")
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.metrics.RecordPersistence("save", "error")
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		s.metrics.RecordPersistence("save", "error")
		return err
	}
	s.metrics.RecordPersistence("save", "ok")
	s.logger.Debug("memory store saved", zap.String("path", path), zap.Int("entries", len(snap.Entries)))
	return nil
}

// Load reads the snapshot at the configured path. Every failure mode
// (missing file, empty file, truncated JSON, wrong top-level shape) leaves
// the store unchanged. The never-fail contract lives here, in one seam, on
// top of the error-returning loadSnapshot.
func (s *MemoryStore) Load() {
	s.LoadFromFile(s.path)
}

// LoadFromFile is Load against an explicit path.
func (s *MemoryStore) LoadFromFile(path string) {
	snap, err := loadSnapshot(path)
	if err != nil {
		s.metrics.RecordPersistence("load", "recovered")
		s.logger.Warn("memory store load failed, keeping current state",
			zap.String("path", path), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*MemoryEntry, len(snap.Entries))
	s.order = make([]string, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if e == nil || e.ID == "" {
			continue
		}
		if e.Content == nil {
			e.Content = Content{}
		}
		if e.Tags == nil {
			e.Tags = []string{}
		}
		if _, exists := s.entries[e.ID]; !exists {
			s.order = append(s.order, e.ID)
		}
		s.entries[e.ID] = e
	}
	s.queryCount = snap.Stats.TotalQueries
	s.metrics.RecordPersistence("load", "ok")
	s.metrics.SetEntries(len(s.order))
	s.logger.Info("memory store loaded", zap.String("path", path), zap.Int("entries", len(s.order)))
}

func loadSnapshot(path string) (snapshot, error) {
	var snap snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Path returns the store's snapshot path.
func (s *MemoryStore) Path() string {
	return s.path
}

// clock returns the store's time source; collaborators share it so tests
// can pin a single clock for the whole subsystem.
func (s *MemoryStore) clock() time.Time {
	return s.now()
}

// scan returns entries of a category (all categories when empty) in
// iteration order without counting hits. Pattern detection, analytics and
// recommendation scans go through here so internal reads never inflate
// usage counters.
func (s *MemoryStore) scan(category string) []*MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*MemoryEntry, 0)
	for _, id := range s.order {
		e := s.entries[id]
		if category != "" && e.Category != category {
			continue
		}
		results = append(results, e)
	}
	return results
}

// lookupCounted fetches entries by id set in iteration order, applying an
// optional category filter and limit, counting each returned entry. The
// inverted index resolves search hits through here.
func (s *MemoryStore) lookupCounted(ids map[string]struct{}, category string, limit int) []*MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*MemoryEntry, 0, len(ids))
	for _, id := range s.order {
		if _, ok := ids[id]; !ok {
			continue
		}
		e := s.entries[id]
		if category != "" && e.Category != category {
			continue
		}
		results = append(results, e)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	s.metrics.RecordQuery("index_search")
	s.touchLocked(results)
	return results
}

func (s *MemoryStore) touchLocked(entries []*MemoryEntry) {
	for _, e := range entries {
		e.HitCount++
	}
	s.metrics.RecordHits(len(entries))
}

func (s *MemoryStore) removeLocked(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.metrics.SetEntries(len(s.order))
	return true
}

func tagsSuperset(tags []string, want map[string]struct{}) bool {
	have := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		have[strings.ToLower(t)] = struct{}{}
	}
	for t := range want {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}
