package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// indexVersion tags the persisted index format. A stored snapshot with any
// other version is discarded and rebuilt from the bound store.
const indexVersion = "1.0"

// InvertedIndex maintains a lowercase keyword -> entry-id mapping over a
// bound store, enabling multi-keyword AND queries without full scans. The
// index is a read-through view: entries live in the store, never here.
type InvertedIndex struct {
	mu     sync.Mutex
	store  *MemoryStore
	index  map[string]map[string]struct{}
	path   string
	logger *zap.Logger
}

// NewInvertedIndex creates an index bound to store. An empty path defaults
// to index.json next to the store's snapshot file.
func NewInvertedIndex(store *MemoryStore, path string, logger *zap.Logger) *InvertedIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = filepath.Join(filepath.Dir(store.Path()), "index.json")
	}
	return &InvertedIndex{
		store:  store,
		index:  make(map[string]map[string]struct{}),
		path:   path,
		logger: logger.With(zap.String("component", "inverted_index")),
	}
}

// AddEntry upserts the entry into the store and indexes its keywords.
// Re-adding an entry first drops its stale postings so the index never
// disagrees with the entry's current content.
func (ix *InvertedIndex) AddEntry(e *MemoryEntry) {
	if e == nil || e.ID == "" {
		return
	}
	ix.store.Add(e)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removePostingsLocked(e.ID)
	for kw := range indexKeywords(e) {
		set, ok := ix.index[kw]
		if !ok {
			set = make(map[string]struct{})
			ix.index[kw] = set
		}
		set[e.ID] = struct{}{}
	}
}

// DeleteEntry removes the entry from the store and every keyword posting.
// Keywords left with no entries are pruned entirely. It reports whether an
// entry was actually found.
func (ix *InvertedIndex) DeleteEntry(id string) bool {
	found := ix.store.Delete(id)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removePostingsLocked(id)
	return found
}

// Search returns entries containing every keyword (case-insensitive AND
// intersection). A keyword absent from the index short-circuits to no
// results, as does an empty keyword list. Matches are fetched from the
// bound store, filtered by category when given, capped by limit when
// positive, and counted.
func (ix *InvertedIndex) Search(keywords []string, category string, limit int) []*MemoryEntry {
	if len(keywords) == 0 {
		return []*MemoryEntry{}
	}

	ix.mu.Lock()
	var ids map[string]struct{}
	for _, kw := range keywords {
		set, ok := ix.index[strings.ToLower(kw)]
		if !ok {
			ix.mu.Unlock()
			return []*MemoryEntry{}
		}
		if ids == nil {
			ids = make(map[string]struct{}, len(set))
			for id := range set {
				ids[id] = struct{}{}
			}
			continue
		}
		for id := range ids {
			if _, ok := set[id]; !ok {
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			ix.mu.Unlock()
			return []*MemoryEntry{}
		}
	}
	ix.mu.Unlock()

	return ix.store.lookupCounted(ids, category, limit)
}

// Keywords returns the indexed keywords, sorted. Mostly useful in tests and
// diagnostics.
func (ix *InvertedIndex) Keywords() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, 0, len(ix.index))
	for kw := range ix.index {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// Rebuild reconstructs the index from the bound store's current contents.
func (ix *InvertedIndex) Rebuild() {
	entries := ix.store.scan("")

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.index = make(map[string]map[string]struct{})
	for _, e := range entries {
		for kw := range indexKeywords(e) {
			set, ok := ix.index[kw]
			if !ok {
				set = make(map[string]struct{})
				ix.index[kw] = set
			}
			set[e.ID] = struct{}{}
		}
	}
	ix.logger.Debug("index rebuilt", zap.Int("keywords", len(ix.index)))
}

// indexSnapshot is the persisted index format.
type indexSnapshot struct {
	Version       string              `json:"version"`
	InvertedIndex map[string][]string `json:"inverted_index"`
}

// Save persists the index to its configured path.
func (ix *InvertedIndex) Save() error {
	return ix.SaveToFile(ix.path)
}

// SaveToFile persists the index to path.
func (ix *InvertedIndex) SaveToFile(path string) error {
	ix.mu.Lock()
	snap := indexSnapshot{
		Version:       indexVersion,
		InvertedIndex: make(map[string][]string, len(ix.index)),
	}
	for kw, set := range ix.index {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		snap.InvertedIndex[kw] = ids
	}
	ix.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the index snapshot at the configured path. Corrupt JSON or a
// version mismatch triggers a transparent rebuild from the bound store
// instead of a load failure.
func (ix *InvertedIndex) Load() {
	ix.LoadFromFile(ix.path)
}

// LoadFromFile is Load against an explicit path.
func (ix *InvertedIndex) LoadFromFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		ix.logger.Warn("index load failed, rebuilding from store",
			zap.String("path", path), zap.Error(err))
		ix.Rebuild()
		return
	}
	var snap indexSnapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Version != indexVersion {
		ix.logger.Warn("index snapshot unusable, rebuilding from store",
			zap.String("path", path),
			zap.String("version", snap.Version),
			zap.Error(err))
		ix.Rebuild()
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.index = make(map[string]map[string]struct{}, len(snap.InvertedIndex))
	for kw, ids := range snap.InvertedIndex {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		if len(set) > 0 {
			ix.index[kw] = set
		}
	}
	ix.logger.Info("index loaded", zap.String("path", path), zap.Int("keywords", len(ix.index)))
}

// Path returns the index's snapshot path.
func (ix *InvertedIndex) Path() string {
	return ix.path
}

func (ix *InvertedIndex) removePostingsLocked(id string) {
	for kw, set := range ix.index {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(ix.index, kw)
			}
		}
	}
}
